package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

const maxAdIdentityBytes = 256

// AdIdentity returns a pixel cookie value, preferring the dedicated cookie
// over the record's mirror. Absent values are returned as "".
func (t *Tracker) AdIdentity(ctx context.Context, name string) (string, error) {
	if _, ok := domain.AdIdentityFields[name]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAdIdentity, name)
	}
	if v, ok := t.store.Read(ctx, name); ok && v != "" {
		return v, nil
	}
	rec, err := t.Snapshot(ctx)
	return rec.AdIdentityValue(name), err
}

// SetAdIdentity writes the dedicated cookie and mirrors the value into the
// record. The record update still happens when the dedicated write fails.
func (t *Tracker) SetAdIdentity(ctx context.Context, name, value string) (domain.Record, error) {
	value = strings.TrimSpace(value)
	patch, ok := domain.AdIdentityPatch(name, value)
	if !ok {
		return domain.Record{}, fmt.Errorf("%w: %q", domain.ErrInvalidAdIdentity, name)
	}
	if !validAdIdentityValue(value) {
		return domain.Record{}, fmt.Errorf("%w: value for %s", domain.ErrInvalidAdIdentity, name)
	}

	policy := t.svc.Policy()
	_, cookieErr := t.store.Write(ctx, name, value, policy.AdIdentityTTL)
	if cookieErr != nil {
		logger.WithContext(ctx, t.svc.log).Warn("ad identity not persisted",
			zap.String("name", name), zap.Error(cookieErr))
	}

	rec, err := t.AtomicUpdate(ctx, patch)
	if err != nil {
		return rec, err
	}
	return rec, cookieErr
}

// EnsureFBP creates a browser id for the pixel when none exists yet.
func (t *Tracker) EnsureFBP(ctx context.Context) (string, error) {
	current, err := t.AdIdentity(ctx, domain.FieldFBP)
	if current != "" {
		return current, err
	}
	fbp := t.svc.ids.NewFBP()
	_, err = t.SetAdIdentity(ctx, domain.FieldFBP, fbp)
	return fbp, err
}

func validAdIdentityValue(v string) bool {
	if v == "" || len(v) > maxAdIdentityBytes {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c <= ' ' || c >= 0x7f || c == ';' || c == ',' || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
