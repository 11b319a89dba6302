// Package identity generates the analytics correlation keys stored on a
// tracking record. None of these values are security tokens.
package identity

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/attribution/internal/clock"
)

// Generator produces session and event identifiers.
type Generator struct {
	clock clock.Clock
	node  *snowflake.Node

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	rnd     *rand.Rand
}

func NewGenerator(clk clock.Clock, node *snowflake.Node) *Generator {
	seed := uint64(time.Now().UnixNano())
	rnd := rand.New(rand.NewPCG(seed, seed>>1|1))
	return &Generator{
		clock:   clk,
		node:    node,
		entropy: ulid.Monotonic(randReader{rnd: rnd}, 0),
		rnd:     rnd,
	}
}

// NewSessionID returns a lexically sortable opaque session id.
func (g *Generator) NewSessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.clock.Now()), g.entropy).String()
}

// NewEventID returns a numeric id that correlates all events of one record.
func (g *Generator) NewEventID() string {
	if g.node != nil {
		return g.node.Generate().String()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("%d%06d", g.clock.Now().UnixMilli(), g.rnd.IntN(1_000_000))
}

// NewFBP returns a browser id in the format pixel scripts expect.
func (g *Generator) NewFBP() string {
	g.mu.Lock()
	n := g.rnd.Int64N(9_000_000_000) + 1_000_000_000
	g.mu.Unlock()
	return fmt.Sprintf("fb.1.%d.%d", g.clock.Now().UnixMilli(), n)
}

// FBCFromClick builds the click cookie value for an fbclid.
func FBCFromClick(fbclid string, at time.Time) string {
	return fmt.Sprintf("fb.1.%d.%s", at.UnixMilli(), fbclid)
}

// Fingerprint returns the best-effort device string kept on the record.
func Fingerprint(userAgent string, maxBytes int) string {
	ua := strings.TrimSpace(userAgent)
	if maxBytes > 0 && len(ua) > maxBytes {
		ua = ua[:maxBytes]
	}
	return ua
}

type randReader struct {
	rnd *rand.Rand
}

func (r randReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rnd.Uint32())
	}
	return len(p), nil
}
