package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Only the holder's token may delete the key.
const claimReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Claims hands out short exclusive holds on a key across processes.
type Claims struct {
	client *redis.Client
	script *redis.Script
}

func NewClaims(client *redis.Client) *Claims {
	if client == nil {
		return nil
	}
	return &Claims{
		client: client,
		script: redis.NewScript(claimReleaseScript),
	}
}

// TryClaim returns a release token and true when the key was free.
func (c *Claims) TryClaim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if c == nil || c.client == nil {
		return "", false, errors.New("claims client not configured")
	}
	if key == "" {
		return "", false, errors.New("claim key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("claim ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (c *Claims) Release(ctx context.Context, key, token string) error {
	if c == nil || c.client == nil || key == "" || token == "" {
		return nil
	}
	return c.script.Run(ctx, c.client, []string{key}, token).Err()
}
