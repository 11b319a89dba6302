// Package store persists tracking values across an ordered list of tiers.
// The first tier is durable and expiring; later tiers are fallbacks used only
// when a durable write cannot be verified.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

// ErrWriteUnverified means a tier accepted a write but could not read it back.
var ErrWriteUnverified = errors.New("write_unverified")

// Tier is one storage backend. Get reports absence as ok=false, never as an error.
type Tier interface {
	Name() string
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, value string, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}

// Observer receives the outcome of each adapter write.
type Observer interface {
	ObserveStorageWrite(ctx context.Context, tier string, fallback bool, err error)
}

// WriteResult names the tier that holds the value after a write.
type WriteResult struct {
	Tier     string
	Fallback bool
}

// Adapter reads and writes named values through its tiers in order.
type Adapter struct {
	tiers    []Tier
	log      *zap.Logger
	observer Observer
}

func NewAdapter(log *zap.Logger, observer Observer, tiers ...Tier) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	kept := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return &Adapter{tiers: kept, log: log, observer: observer}
}

// Read returns the value from the first tier that has one.
func (a *Adapter) Read(ctx context.Context, name string) (string, bool) {
	for _, tier := range a.tiers {
		value, ok, err := tier.Get(ctx, name)
		if err != nil {
			a.log.Warn("storage tier read failed",
				zap.String("tier", tier.Name()),
				zap.String("name", name),
				zap.Error(err),
			)
			continue
		}
		if ok {
			return value, true
		}
	}
	return "", false
}

// Write stores value in the first tier whose write verifies. Tiers ahead of
// it that failed verification have their stale copy removed so reads fall
// through to the tier that took the write. When every tier fails nothing is
// removed and the previously stored value stays readable.
func (a *Adapter) Write(ctx context.Context, name, value string, ttl time.Duration) (WriteResult, error) {
	var errs []error
	for i, tier := range a.tiers {
		err := writeVerified(ctx, tier, name, value, ttl)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}

		result := WriteResult{Tier: tier.Name(), Fallback: i > 0}
		if result.Fallback {
			a.dropStale(ctx, a.tiers[:i], name)
			a.log.Warn("durable write unverified, served from fallback tier",
				zap.String("name", name),
				zap.String("tier", result.Tier),
			)
		}
		a.observe(ctx, result.Tier, result.Fallback, nil)
		return result, nil
	}

	err := fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, errors.Join(errs...))
	a.observe(ctx, "", false, err)
	return WriteResult{}, err
}

func (a *Adapter) dropStale(ctx context.Context, tiers []Tier, name string) {
	for _, tier := range tiers {
		if err := tier.Delete(ctx, name); err != nil {
			a.log.Debug("stale value cleanup failed",
				zap.String("tier", tier.Name()),
				zap.String("name", name),
				zap.Error(err),
			)
		}
	}
}

// Tiers returns the configured tier names in order.
func (a *Adapter) Tiers() []string {
	names := make([]string, 0, len(a.tiers))
	for _, t := range a.tiers {
		names = append(names, t.Name())
	}
	return names
}

func (a *Adapter) observe(ctx context.Context, tier string, fallback bool, err error) {
	if a.observer != nil {
		a.observer.ObserveStorageWrite(ctx, tier, fallback, err)
	}
}

func writeVerified(ctx context.Context, tier Tier, name, value string, ttl time.Duration) error {
	if err := tier.Set(ctx, name, value, ttl); err != nil {
		return err
	}
	got, ok, err := tier.Get(ctx, name)
	if err != nil {
		return err
	}
	if !ok || got != value {
		return ErrWriteUnverified
	}
	return nil
}
