package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurchaseDedupWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	dup, err := f.tracker().IsDuplicatePurchase(ctx)
	require.NoError(t, err)
	assert.False(t, dup)

	_, err = f.tracker().MarkPurchaseFired(ctx)
	require.NoError(t, err)

	f.clk.Advance(10 * time.Second)
	dup, err = f.tracker().IsDuplicatePurchase(ctx)
	require.NoError(t, err)
	assert.True(t, dup)

	f.clk.Advance(60 * time.Second)
	dup, err = f.tracker().IsDuplicatePurchase(ctx)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMarkThenClearIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker().MarkPurchaseFired(ctx)
	require.NoError(t, err)

	rec, err := f.tracker().ClearFields(ctx, []string{domain.FieldPurchaseFired, domain.FieldPurchaseTime})
	require.NoError(t, err)
	assert.False(t, rec.PurchaseFired)
	assert.True(t, rec.PurchaseTime.IsZero())

	dup, err := f.tracker().IsDuplicatePurchase(ctx)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestTrackPurchaseSuppressesSecondFire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.tracker()

	dup, rec, err := tr.TrackPurchase(ctx)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, rec.PurchaseFired)
	assertTime(t, t0, rec.PurchaseTime)

	f.clk.Advance(5 * time.Second)
	dup, rec, err = tr.TrackPurchase(ctx)
	require.NoError(t, err)
	assert.True(t, dup)
	assertTime(t, t0, rec.PurchaseTime)
}

func TestTrackPageViewWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	dup, _, err := f.tracker().TrackPageView(ctx)
	require.NoError(t, err)
	assert.False(t, dup)

	f.clk.Advance(time.Second)
	dup, _, err = f.tracker().TrackPageView(ctx)
	require.NoError(t, err)
	assert.True(t, dup)

	f.clk.Advance(10 * time.Second)
	dup, err = f.tracker().IsDuplicatePageView(ctx)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestMarkInitiateCheckoutFired(t *testing.T) {
	f := newFixture(t)
	rec, err := f.tracker().MarkInitiateCheckoutFired(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.InitiateCheckoutFired)
}

func TestClearFieldsStrictRejectsFirstTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstReferrer: domain.String("https://google.com/"),
		FBClid:        domain.String("abc"),
	})
	require.NoError(t, err)

	_, err = f.tracker().ClearFields(ctx, []string{domain.FieldFirstReferrer, "fbclid"})
	require.ErrorIs(t, err, domain.ErrProtectedField)

	rec, err := f.tracker().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://google.com/", rec.FirstReferrer)
	assert.Equal(t, "abc", rec.FBClid)
}

func TestClearFieldsStrictRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker().ClearFields(context.Background(), []string{"sessionId"})
	require.ErrorIs(t, err, domain.ErrUnknownField)
}

func TestClearFieldsLenientDropsProtectedNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, lenient)

	_, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstReferrer: domain.String("https://google.com/"),
		FBClid:        domain.String("abc"),
		LastReferrer:  domain.String("https://google.com/"),
	})
	require.NoError(t, err)

	rec, err := f.tracker().ClearFields(ctx, []string{domain.FieldFirstReferrer, "fbclid", "lastReferrer", "bogus"})
	require.NoError(t, err)
	assert.Equal(t, "https://google.com/", rec.FirstReferrer)
	assert.Empty(t, rec.FBClid)
	assert.Empty(t, rec.LastReferrer)
}
