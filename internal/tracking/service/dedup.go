package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/zap"
)

// Event names used in metrics and logs.
const (
	EventPurchase         = "purchase"
	EventInitiateCheckout = "initiate_checkout"
	EventPageView         = "page_view"
)

// IsDuplicatePurchase reports whether a purchase fired within the dedup window.
func (t *Tracker) IsDuplicatePurchase(ctx context.Context) (bool, error) {
	rec, err := t.Snapshot(ctx)
	return t.purchaseWithinWindow(rec), err
}

// IsDuplicatePageView reports whether a page view was sent within the
// page-view window.
func (t *Tracker) IsDuplicatePageView(ctx context.Context) (bool, error) {
	rec, err := t.Snapshot(ctx)
	return t.pageViewWithinWindow(rec), err
}

func (t *Tracker) purchaseWithinWindow(rec domain.Record) bool {
	if !rec.PurchaseFired || rec.PurchaseTime.IsZero() {
		return false
	}
	return t.now().Sub(rec.PurchaseTime) < t.svc.Policy().DedupWindow
}

func (t *Tracker) pageViewWithinWindow(rec domain.Record) bool {
	if !rec.PageViewFired || rec.LastPageViewSent.IsZero() {
		return false
	}
	return t.now().Sub(rec.LastPageViewSent) < t.svc.Policy().PageViewWindow
}

func (t *Tracker) MarkPurchaseFired(ctx context.Context) (domain.Record, error) {
	rec, err := t.AtomicUpdate(ctx, domain.Patch{
		PurchaseFired: domain.Bool(true),
		PurchaseTime:  domain.Time(t.now()),
	})
	t.svc.metrics.RecordEventMarked(EventPurchase)
	return rec, err
}

func (t *Tracker) MarkInitiateCheckoutFired(ctx context.Context) (domain.Record, error) {
	rec, err := t.AtomicUpdate(ctx, domain.Patch{InitiateCheckoutFired: domain.Bool(true)})
	t.svc.metrics.RecordEventMarked(EventInitiateCheckout)
	return rec, err
}

func (t *Tracker) MarkPageViewFired(ctx context.Context) (domain.Record, error) {
	rec, err := t.AtomicUpdate(ctx, domain.Patch{
		PageViewFired:    domain.Bool(true),
		LastPageViewSent: domain.Time(t.now()),
	})
	t.svc.metrics.RecordEventMarked(EventPageView)
	return rec, err
}

// TrackPurchase checks and marks in one step so two concurrent calls on the
// same Tracker cannot both see a non-duplicate.
func (t *Tracker) TrackPurchase(ctx context.Context) (bool, domain.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, _ := t.readOrSeed(ctx)
	if t.purchaseWithinWindow(existing) {
		t.svc.metrics.RecordDuplicate(EventPurchase)
		return true, existing, nil
	}
	rec, err := t.mergeAndWrite(ctx, existing, domain.Patch{
		PurchaseFired: domain.Bool(true),
		PurchaseTime:  domain.Time(t.now()),
	})
	t.svc.metrics.RecordEventMarked(EventPurchase)
	return false, rec, err
}

// TrackPageView is the page-view counterpart of TrackPurchase.
func (t *Tracker) TrackPageView(ctx context.Context) (bool, domain.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, _ := t.readOrSeed(ctx)
	if t.pageViewWithinWindow(existing) {
		t.svc.metrics.RecordDuplicate(EventPageView)
		return true, existing, nil
	}
	rec, err := t.mergeAndWrite(ctx, existing, domain.Patch{
		PageViewFired:    domain.Bool(true),
		LastPageViewSent: domain.Time(t.now()),
	})
	t.svc.metrics.RecordEventMarked(EventPageView)
	return false, rec, err
}

// ClearFields resets the named fields. First-touch names are rejected: with
// strict invariants nothing is cleared and an error is returned, otherwise
// the offending names are logged and dropped.
func (t *Tracker) ClearFields(ctx context.Context, names []string) (domain.Record, error) {
	log := logger.WithContext(ctx, t.svc.log)
	policy := t.svc.Policy()

	var valid, protected, unknown []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch {
		case domain.IsFirstTouchField(name):
			protected = append(protected, name)
		case domain.IsClearable(name):
			valid = append(valid, name)
		default:
			unknown = append(unknown, name)
		}
	}

	if len(protected) > 0 {
		t.svc.metrics.RecordProtectedClear()
		if policy.StrictInvariants {
			log.Error("attempt to clear first-touch fields", zap.Strings("fields", protected))
			return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrProtectedField, strings.Join(protected, ","))
		}
		log.Warn("ignoring clear of first-touch fields", zap.Strings("fields", protected))
	}
	if len(unknown) > 0 {
		if policy.StrictInvariants {
			log.Error("attempt to clear unknown fields", zap.Strings("fields", unknown))
			return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrUnknownField, strings.Join(unknown, ","))
		}
		log.Warn("ignoring clear of unknown fields", zap.Strings("fields", unknown))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, _ := t.readOrSeed(ctx)
	cleared := existing
	for _, name := range valid {
		domain.ClearField(&cleared, name)
	}
	cleared.SchemaVersion = domain.SchemaVersion
	cleared.NeedsRewrite = false
	return t.write(ctx, cleared)
}
