package cache

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AddressKey derives a stable key for a client address so raw addresses are
// never written to shared stores.
func AddressKey(ip string) string {
	ip = strings.ToLower(strings.TrimSpace(ip))
	if ip == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:16])
}
