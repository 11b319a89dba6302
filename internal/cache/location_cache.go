package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

const (
	keyLocation = "geo:location:%s"

	maxLocalLocations = 50_000
)

// LocationCache stores resolved client locations by address.
type LocationCache interface {
	GetLocation(ctx context.Context, ip string) (domain.Location, bool)
	SetLocation(ctx context.Context, ip string, loc domain.Location)
}

// NewLocationCache returns a Redis-backed cache when a client is configured
// and an in-process one otherwise.
func NewLocationCache(cfg config.Config, client *redis.Client, clk clock.Clock, log *zap.Logger) LocationCache {
	ttl := cfg.Geo.CacheTTL
	if client != nil {
		return &redisLocationCache{client: client, ttl: ttl, log: log.Named("cache.location")}
	}
	return &localLocationCache{entries: NewTTLCache[string, domain.Location](clk), ttl: ttl}
}

type localLocationCache struct {
	entries *TTLCache[string, domain.Location]
	ttl     time.Duration
}

func (c *localLocationCache) GetLocation(_ context.Context, ip string) (domain.Location, bool) {
	return c.entries.Get(cacheKey(ip))
}

func (c *localLocationCache) SetLocation(_ context.Context, ip string, loc domain.Location) {
	key := cacheKey(ip)
	if key == "" || loc.CountryCode == "" {
		return
	}
	if c.entries.Len() >= maxLocalLocations && c.entries.Purge() == 0 {
		return
	}
	c.entries.Set(key, loc, c.ttl)
}

type redisLocationCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func (c *redisLocationCache) GetLocation(ctx context.Context, ip string) (domain.Location, bool) {
	key := AddressKey(ip)
	if key == "" {
		return domain.Location{}, false
	}
	raw, err := c.client.Get(ctx, fmt.Sprintf(keyLocation, key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("location cache read failed", zap.Error(err))
		}
		return domain.Location{}, false
	}
	return decodeLocation(raw)
}

func (c *redisLocationCache) SetLocation(ctx context.Context, ip string, loc domain.Location) {
	key := AddressKey(ip)
	if key == "" || loc.CountryCode == "" {
		return
	}
	if err := c.client.Set(ctx, fmt.Sprintf(keyLocation, key), encodeLocation(loc), c.ttl).Err(); err != nil {
		c.log.Warn("location cache write failed", zap.Error(err))
	}
}

func encodeLocation(loc domain.Location) string {
	return loc.CountryCode + "|" + loc.Currency
}

func decodeLocation(raw string) (domain.Location, bool) {
	country, currency, ok := strings.Cut(raw, "|")
	if !ok || country == "" {
		return domain.Location{}, false
	}
	return domain.Location{CountryCode: country, Currency: currency}, true
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
