package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/attribution/internal/cache"
	"github.com/smallbiznis/attribution/internal/config"
	"go.uber.org/zap"
)

const (
	keyBeaconIP      = "beacon:ip:%s"
	keyPurchaseClaim = "beacon:purchase:%s"
	purchaseClaimTTL = 10 * time.Second
	releaseTimeout   = time.Second
)

// BeaconLimiter throttles tracking beacons per client address and keeps two
// concurrent purchase beacons for one session from both firing. Without
// Redis every call is allowed.
type BeaconLimiter struct {
	bucket *TokenBucket
	claims *Claims
	log    *zap.Logger
}

func NewBeaconLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*BeaconLimiter, error) {
	l := &BeaconLimiter{
		claims: NewClaims(client),
		log:    log.Named("ratelimit.beacon"),
	}
	if !cfg.RateLimit.Enabled {
		return l, nil
	}
	if client == nil {
		log.Warn("beacon rate limit enabled without redis, limiting disabled")
		return l, nil
	}

	bucket, err := NewTokenBucket(client, cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	if err != nil {
		return nil, fmt.Errorf("beacon rate limit: %w", err)
	}
	l.bucket = bucket
	return l, nil
}

func (l *BeaconLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowIP spends one token from the address's bucket.
func (l *BeaconLimiter) AllowIP(ctx context.Context, ip string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyBeaconIP, cache.AddressKey(ip)))
}

// ClaimPurchase takes the session's purchase claim. claimed is false when
// another beacon for the session is in flight; release must always be called.
func (l *BeaconLimiter) ClaimPurchase(ctx context.Context, sessionID string) (release func(), claimed bool, err error) {
	noop := func() {}
	if l == nil || l.claims == nil || strings.TrimSpace(sessionID) == "" {
		return noop, true, nil
	}

	key := fmt.Sprintf(keyPurchaseClaim, strings.TrimSpace(sessionID))
	token, ok, err := l.claims.TryClaim(ctx, key, purchaseClaimTTL)
	if err != nil {
		return noop, true, err
	}
	if !ok {
		return noop, false, nil
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := l.claims.Release(rctx, key, token); err != nil {
			l.log.Warn("purchase claim release failed", zap.Error(err))
		}
	}, true, nil
}
