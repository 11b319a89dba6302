package service

import (
	"context"

	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

// EnsureLocation seeds country and currency once per record. Lookup
// failures are logged and leave the record untouched.
func (t *Tracker) EnsureLocation(ctx context.Context, ip string) (domain.Record, error) {
	rec, err := t.Snapshot(ctx)
	if rec.CountryCode != "" || t.svc.locator == nil {
		return rec, err
	}

	loc, lerr := t.svc.locator.Locate(ctx, ip)
	if lerr != nil || loc.CountryCode == "" {
		logger.WithContext(ctx, t.svc.log).Warn("location lookup failed", zap.Error(lerr))
		return rec, err
	}

	patch := domain.Patch{CountryCode: domain.String(loc.CountryCode)}
	if rec.Currency == "" && loc.Currency != "" {
		patch.Currency = domain.String(loc.Currency)
	}
	return t.AtomicUpdate(ctx, patch)
}
