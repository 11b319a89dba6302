package service

import (
	"context"
	"sync"
	"time"

	obscontext "github.com/smallbiznis/attribution/internal/observability/context"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"github.com/smallbiznis/attribution/internal/tracking/codec"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/identity"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Tracker is the single funnel through which a browser's tracking record is
// read and mutated. Its methods are safe for concurrent use.
type Tracker struct {
	svc       *Service
	store     *store.Adapter
	userAgent string

	mu sync.Mutex
	// seed is reused until the first successful write so every read inside
	// one request sees the same generated identity.
	seed *domain.Record
}

// AtomicUpdate merges patch into the stored record and persists the result.
// First-touch groups already holding a real value are restored from the
// stored record whatever the patch proposed. On ErrStorageUnavailable the
// merged record is still returned.
func (t *Tracker) AtomicUpdate(ctx context.Context, patch domain.Patch) (domain.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, _ := t.readOrSeed(ctx)
	return t.mergeAndWrite(ctx, existing, patch)
}

// Snapshot returns the current record, creating and persisting a seed if the
// browser has none yet.
func (t *Tracker) Snapshot(ctx context.Context) (domain.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, found := t.readOrSeed(ctx)
	if found {
		return rec, nil
	}
	return t.write(ctx, rec)
}

func (t *Tracker) mergeAndWrite(ctx context.Context, existing domain.Record, patch domain.Patch) (domain.Record, error) {
	ctx, span := t.svc.tracer.Start(ctx, "tracking.AtomicUpdate")
	defer span.End()

	policy := t.svc.Policy()
	merged := Merge(existing, patch, policy.Placeholder)
	t.recordTouches(existing, merged, policy.Placeholder)

	rec, err := t.write(ctx, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage unavailable")
	}
	span.SetAttributes(attribute.Bool("tracking.migrated", existing.NeedsRewrite))
	return rec, err
}

// Merge computes existing ⊕ patch under the write-once and ordering rules.
// It is pure and idempotent: Merge(Merge(e, p), p) == Merge(e, p).
func Merge(existing domain.Record, patch domain.Patch, placeholder string) domain.Record {
	if patch.LastReferrerTime != nil && patch.LastReferrerTime.Before(existing.LastReferrerTime) {
		patch = patch.WithoutLastTouch()
	}

	merged := existing
	patch.ApplyTo(&merged)

	restoreIdentity(&merged, existing)
	if existing.FirstReferrerSet(placeholder) {
		merged.FirstReferrer = existing.FirstReferrer
		merged.FirstReferrerTime = existing.FirstReferrerTime
	}
	if existing.FirstUTMSet(placeholder) {
		merged.FirstUTMSource = existing.FirstUTMSource
		merged.FirstUTMMedium = existing.FirstUTMMedium
		merged.FirstUTMCampaign = existing.FirstUTMCampaign
		merged.FirstUTMTerm = existing.FirstUTMTerm
		merged.FirstUTMContent = existing.FirstUTMContent
	}

	merged.SchemaVersion = domain.SchemaVersion
	merged.NeedsRewrite = false
	return merged
}

func restoreIdentity(merged *domain.Record, existing domain.Record) {
	if existing.SessionID != "" {
		merged.SessionID = existing.SessionID
	}
	if existing.EventID != "" {
		merged.EventID = existing.EventID
	}
	if !existing.LandingTime.IsZero() {
		merged.LandingTime = existing.LandingTime
	}
}

// readOrSeed returns the stored record, or a fresh seed with found=false.
// Must be called with t.mu held.
func (t *Tracker) readOrSeed(ctx context.Context) (domain.Record, bool) {
	policy := t.svc.Policy()
	if raw, ok := t.store.Read(ctx, policy.RecordName); ok {
		if rec, ok := codec.DecodeRecord(raw); ok {
			return rec, true
		}
		logger.WithContext(ctx, t.svc.log).Warn("discarding malformed tracking record")
	}
	if t.seed == nil {
		seed := t.newSeed()
		t.seed = &seed
	}
	return *t.seed, false
}

func (t *Tracker) newSeed() domain.Record {
	policy := t.svc.Policy()
	now := t.svc.clock.Now()
	return domain.Record{
		SessionID:         t.svc.ids.NewSessionID(),
		EventID:           t.svc.ids.NewEventID(),
		LandingTime:       now,
		UserAgent:         identity.Fingerprint(t.userAgent, policy.MaxUserAgentBytes),
		SchemaVersion:     domain.SchemaVersion,
		ConsentGiven:      policy.DefaultConsent,
		FirstReferrer:     policy.Placeholder,
		FirstUTMSource:    policy.Placeholder,
		FirstReferrerTime: now,
		LastReferrer:      policy.Placeholder,
		LastReferrerTime:  now,
	}
}

// write persists rec. Must be called with t.mu held.
func (t *Tracker) write(ctx context.Context, rec domain.Record) (domain.Record, error) {
	policy := t.svc.Policy()
	log := logger.WithContext(obscontext.WithSessionID(ctx, rec.SessionID), t.svc.log)

	raw, err := codec.EncodeRecord(rec)
	if err != nil {
		log.Error("encode tracking record", zap.Error(err))
		return rec, err
	}
	if _, err := t.store.Write(ctx, policy.RecordName, raw, policy.RecordTTL); err != nil {
		log.Warn("tracking record not persisted", zap.Error(err))
		return rec, err
	}
	t.seed = nil
	return rec, nil
}

func (t *Tracker) recordTouches(before, after domain.Record, placeholder string) {
	m := t.svc.metrics
	if m == nil {
		return
	}
	if !before.FirstReferrerSet(placeholder) && after.FirstReferrerSet(placeholder) {
		m.RecordTouch(obsmetrics.TouchFirstReferrer)
	}
	if !before.FirstUTMSet(placeholder) && after.FirstUTMSet(placeholder) {
		m.RecordTouch(obsmetrics.TouchFirstUTM)
	}
	if after.LastReferrerTime.After(before.LastReferrerTime) {
		m.RecordTouch(obsmetrics.TouchLast)
	}
}

func (t *Tracker) now() time.Time {
	return t.svc.clock.Now()
}
