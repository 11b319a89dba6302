package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/identity"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// droppingTier accepts every write and keeps none of them.
type droppingTier struct{}

func (droppingTier) Name() string { return "dropping" }
func (droppingTier) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (droppingTier) Set(context.Context, string, string, time.Duration) error { return nil }
func (droppingTier) Delete(context.Context, string) error                     { return nil }

type fixture struct {
	clk      *clock.FakeClock
	durable  *store.MemoryTier
	volatile *store.MemoryTier
	svc      *Service
}

func newFixture(t *testing.T, opts ...func(*config.TrackingPolicy, *Params)) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(t0)
	policy := config.DefaultTrackingPolicy()
	params := Params{Log: zap.NewNop(), Clock: clk}
	for _, opt := range opts {
		opt(&policy, &params)
	}
	params.Policy = config.NewStaticPolicyHolder(policy)
	params.IDs = identity.NewGenerator(clk, node)

	return &fixture{
		clk:      clk,
		durable:  store.NewMemoryTier("durable"),
		volatile: store.NewMemoryTier("volatile"),
		svc:      New(params),
	}
}

// tracker returns a fresh Tracker over the fixture's tiers, as a new request would.
func (f *fixture) tracker(tiers ...store.Tier) *Tracker {
	if len(tiers) == 0 {
		tiers = []store.Tier{f.durable, f.volatile}
	}
	return f.svc.Tracker(store.NewAdapter(zap.NewNop(), nil, tiers...), "Mozilla/5.0 (test)")
}

func lenient(p *config.TrackingPolicy, _ *Params) { p.StrictInvariants = false }

func assertTime(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func TestSnapshotSeedsAndPersistsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.tracker().Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SessionID)
	assert.NotEmpty(t, rec.EventID)
	assert.Equal(t, "direct", rec.FirstReferrer)
	assert.Equal(t, "direct", rec.FirstUTMSource)
	assert.Equal(t, "direct", rec.LastReferrer)
	assert.True(t, rec.ConsentGiven)
	assert.Equal(t, domain.SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "Mozilla/5.0 (test)", rec.UserAgent)
	assertTime(t, t0, rec.LandingTime)
	assertTime(t, t0, rec.LastReferrerTime)

	f.clk.Advance(time.Hour)
	again, err := f.tracker().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, again.SessionID)
	assert.Equal(t, rec.EventID, again.EventID)
	assertTime(t, t0, again.LandingTime)
}

func TestFirstTouchReferrerIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstReferrer:     domain.String("https://google.com/"),
		FirstReferrerTime: domain.Time(t0),
	})
	require.NoError(t, err)

	f.clk.Advance(time.Hour)
	rec, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstReferrer:     domain.String("https://bing.com/"),
		FirstReferrerTime: domain.Time(f.clk.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://google.com/", rec.FirstReferrer)
	assertTime(t, t0, rec.FirstReferrerTime)
}

func TestFirstTouchUTMGroupIsRestoredWhole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstUTMSource: domain.String("newsletter"),
		FirstUTMMedium: domain.String("email"),
	})
	require.NoError(t, err)

	rec, err := f.tracker().AtomicUpdate(ctx, domain.Patch{
		FirstUTMSource:   domain.String("retarget"),
		FirstUTMCampaign: domain.String("spring"),
		FirstReferrer:    domain.String("https://news.example.org/"),
	})
	require.NoError(t, err)
	assert.Equal(t, "newsletter", rec.FirstUTMSource)
	assert.Equal(t, "email", rec.FirstUTMMedium)
	assert.Empty(t, rec.FirstUTMCampaign)
	// The referrer group is independent and still held the placeholder.
	assert.Equal(t, "https://news.example.org/", rec.FirstReferrer)
}

func TestMergeIsIdempotent(t *testing.T) {
	existing := domain.Record{
		SessionID:        "s1",
		EventID:          "e1",
		LandingTime:      t0,
		FirstReferrer:    "direct",
		FirstUTMSource:   "direct",
		LastReferrer:     "direct",
		LastReferrerTime: t0,
	}
	patch := domain.Patch{
		SessionID:        domain.String("other"),
		FirstReferrer:    domain.String("https://google.com/"),
		FirstUTMSource:   domain.String("google"),
		LastReferrer:     domain.String("https://google.com/"),
		LastReferrerTime: domain.Time(t0.Add(time.Minute)),
		FBClid:           domain.String("abc"),
	}

	once := Merge(existing, patch, "direct")
	twice := Merge(once, patch, "direct")
	assert.Equal(t, once, twice)
	assert.Equal(t, "s1", once.SessionID)
	assert.Equal(t, "https://google.com/", once.FirstReferrer)
}

func TestMergeDropsStaleLastTouch(t *testing.T) {
	existing := domain.Record{
		LastReferrer:     "https://news.example.org/",
		LastUTMSource:    "hn",
		LastReferrerTime: t0.Add(10 * time.Minute),
	}
	merged := Merge(existing, domain.Patch{
		LastReferrer:     domain.String("https://google.com/"),
		LastUTMSource:    domain.String("google"),
		LastReferrerTime: domain.Time(t0.Add(5 * time.Minute)),
		FBClid:           domain.String("kept"),
	}, "direct")

	assert.Equal(t, "https://news.example.org/", merged.LastReferrer)
	assert.Equal(t, "hn", merged.LastUTMSource)
	assert.Equal(t, "kept", merged.FBClid)
}

func TestAtomicUpdateFallsBackToVolatileTier(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.tracker(droppingTier{}, f.volatile).AtomicUpdate(ctx, domain.Patch{FBClid: domain.String("abc")})
	require.NoError(t, err)
	assert.Equal(t, "abc", rec.FBClid)

	again, err := f.tracker(droppingTier{}, f.volatile).Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, again.SessionID)
	assert.Equal(t, "abc", again.FBClid)
}

func TestAtomicUpdateReportsStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.tracker(droppingTier{}, droppingTier{}).AtomicUpdate(ctx, domain.Patch{FBClid: domain.String("abc")})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, "abc", rec.FBClid)
	assert.NotEmpty(t, rec.SessionID)
}

func TestCorruptRecordIsReplacedBySeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.durable.Set(ctx, "_trk", "v2.!!!not-base64", 0))

	rec, err := f.tracker().Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SessionID)

	again, err := f.tracker().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, again.SessionID)
}

func TestConcurrentUpdatesKeepOneFirstTouch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := f.tracker()

	referrers := []string{"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/"}
	done := make(chan struct{})
	for _, ref := range referrers {
		go func(ref string) {
			defer func() { done <- struct{}{} }()
			_, _ = tr.AtomicUpdate(ctx, domain.Patch{FirstReferrer: domain.String(ref)})
		}(ref)
	}
	for range referrers {
		<-done
	}

	first, err := tr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, referrers, first.FirstReferrer)

	_, err = tr.AtomicUpdate(ctx, domain.Patch{FirstReferrer: domain.String("https://late.example/")})
	require.NoError(t, err)
	final, err := tr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.FirstReferrer, final.FirstReferrer)
}
