package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"testing"
	"time"

	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/tracking/codec"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureNewsletterThenRetarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, outcome, err := f.tracker().Capture(ctx, domain.Navigation{
		PageURL: "https://shop.example.com/?utm_source=newsletter&utm_medium=email",
	})
	require.NoError(t, err)
	assert.True(t, outcome.NewSession)
	assert.True(t, outcome.FirstTouch)
	assert.Equal(t, "newsletter", rec.FirstReferrer)
	assert.Equal(t, "newsletter", rec.FirstUTMSource)
	assert.Equal(t, "email", rec.FirstUTMMedium)
	assert.Equal(t, "newsletter", rec.LastUTMSource)

	f.clk.Advance(15 * time.Minute)
	rec, outcome, err = f.tracker().Capture(ctx, domain.Navigation{
		PageURL: "https://shop.example.com/sale?utm_source=retarget",
	})
	require.NoError(t, err)
	assert.True(t, outcome.LastTouch)
	assert.False(t, outcome.FirstTouch)
	assert.Equal(t, "newsletter", rec.FirstReferrer)
	assert.Equal(t, "newsletter", rec.FirstUTMSource)
	assert.Equal(t, "email", rec.FirstUTMMedium)
	assert.Equal(t, "retarget", rec.LastReferrer)
	assert.Equal(t, "retarget", rec.LastUTMSource)
	assert.Equal(t, "email", rec.LastUTMMedium)
	assertTime(t, f.clk.Now(), rec.LastReferrerTime)
}

func TestCaptureAtSeedInstantOpensOnlyOneSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	internal := domain.Navigation{PageURL: "https://shop.example.com/p/1", Referrer: "https://shop.example.com/"}

	_, outcome, err := f.tracker().Capture(ctx, internal)
	require.NoError(t, err)
	assert.True(t, outcome.NewSession)

	// Same instant as the seed: the record must no longer read as uncaptured.
	_, outcome, err = f.tracker().Capture(ctx, internal)
	require.NoError(t, err)
	assert.False(t, outcome.NewSession)
	assert.False(t, outcome.LastTouch)
}

func TestCaptureCarriesLastTouchIntoNewSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.tracker().Capture(ctx, domain.Navigation{
		PageURL:  "https://shop.example.com/?utm_source=google&utm_medium=cpc",
		Referrer: "https://www.google.com/",
	})
	require.NoError(t, err)

	f.clk.Advance(20 * time.Minute)
	rec, outcome, err := f.tracker().Capture(ctx, domain.Navigation{
		PageURL:  "https://shop.example.com/cart",
		Referrer: "https://shop.example.com/",
	})
	require.NoError(t, err)
	assert.True(t, outcome.NewSession)
	assert.Equal(t, "https://www.google.com/", rec.FirstReferrer)
	assert.Equal(t, "https://www.google.com/", rec.LastReferrer)
	assert.Equal(t, "google", rec.LastUTMSource)
	assert.Equal(t, "cpc", rec.LastUTMMedium)
	assertTime(t, t0.Add(20*time.Minute), rec.LastReferrerTime)
}

func TestCaptureWithinSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	internal := domain.Navigation{PageURL: "https://shop.example.com/p/1", Referrer: "https://shop.example.com/"}

	rec, outcome, err := f.tracker().Capture(ctx, internal)
	require.NoError(t, err)
	assert.True(t, outcome.NewSession)
	assert.True(t, rec.LastReferrerTime.After(rec.LandingTime))
	opened := rec.LastReferrerTime

	f.clk.Advance(time.Minute)
	rec, outcome, err = f.tracker().Capture(ctx, internal)
	require.NoError(t, err)
	assert.False(t, outcome.NewSession)
	assert.False(t, outcome.LastTouch)
	assertTime(t, opened, rec.LastReferrerTime)

	f.clk.Advance(time.Minute)
	rec, outcome, err = f.tracker().Capture(ctx, domain.Navigation{
		PageURL:  "https://shop.example.com/p/2",
		Referrer: "https://news.ycombinator.com/",
	})
	require.NoError(t, err)
	assert.True(t, outcome.LastTouch)
	assert.Equal(t, "https://news.ycombinator.com/", rec.LastReferrer)
	assert.Equal(t, "https://news.ycombinator.com/", rec.FirstReferrer)
}

func TestCaptureIgnoresPaymentProviderReferrer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, outcome, err := f.tracker().Capture(ctx, domain.Navigation{
		PageURL:  "https://shop.example.com/thanks?utm_source=stripe",
		Referrer: "https://checkout.stripe.com/c/pay/cs_123",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Blocked)
	assert.Equal(t, "direct", rec.FirstReferrer)
	assert.Equal(t, "direct", rec.FirstUTMSource)
	assert.Equal(t, "direct", rec.LastReferrer)
	assert.Empty(t, rec.LastUTMSource)
}

func TestIsBlockedHost(t *testing.T) {
	blocked := config.DefaultTrackingPolicy().BlockedReferrers

	assert.True(t, IsBlockedHost("checkout.stripe.com", blocked))
	assert.True(t, IsBlockedHost("pay.paypal.com", blocked))
	assert.True(t, IsBlockedHost("WWW.PAYPAL.COM.", blocked))
	assert.False(t, IsBlockedHost("notpaypal.com", blocked))
	assert.False(t, IsBlockedHost("", blocked))
}

func TestCaptureDerivesClickCookie(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nav := domain.Navigation{PageURL: "https://shop.example.com/?fbclid=abc123"}

	rec, _, err := f.tracker().Capture(ctx, nav)
	require.NoError(t, err)
	want := fmt.Sprintf("fb.1.%d.abc123", t0.UnixMilli())
	assert.Equal(t, "abc123", rec.FBClid)
	assert.Equal(t, want, rec.FBC)

	cookie, ok, err := f.durable.Get(ctx, "_fbc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, cookie)

	f.clk.Advance(time.Hour)
	rec, _, err = f.tracker().Capture(ctx, nav)
	require.NoError(t, err)
	assert.Equal(t, want, rec.FBC)
}

func TestCaptureRejectsRelativeURL(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.tracker().Capture(context.Background(), domain.Navigation{PageURL: "/relative"})
	require.ErrorIs(t, err, domain.ErrInvalidNavigation)
}

func TestBuildCapturePatchProposesOnlyPresentUTMFields(t *testing.T) {
	policy := config.DefaultTrackingPolicy()
	existing := domain.Record{
		LandingTime:      t0,
		FirstReferrer:    "direct",
		FirstUTMSource:   "direct",
		LastReferrer:     "direct",
		LastReferrerTime: t0,
	}
	nav := domain.Navigation{PageURL: "https://shop.example.com/?utm_source=ads&utm_campaign=spring"}

	patch, _, err := BuildCapturePatch(existing, nav, policy, t0)
	require.NoError(t, err)
	require.NotNil(t, patch.FirstUTMSource)
	require.NotNil(t, patch.FirstUTMCampaign)
	assert.Nil(t, patch.FirstUTMMedium)
	assert.Nil(t, patch.FirstUTMTerm)
	assert.Nil(t, patch.FirstUTMContent)

	again, _, err := BuildCapturePatch(existing, nav, policy, t0)
	require.NoError(t, err)
	assert.Equal(t, patch, again)
}

func noise(rnd *rand.Rand, n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rnd.IntN(len(alphabet))]
	}
	return string(b)
}

func oversizedNavigation(rnd *rand.Rand) domain.Navigation {
	q := url.Values{}
	for _, k := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid"} {
		q.Set(k, noise(rnd, 4000))
	}
	return domain.Navigation{
		PageURL:  "https://shop.example.com/?" + q.Encode(),
		Referrer: "https://ref.example.net/" + noise(rnd, 4000),
	}
}

func TestCapturedRecordFitsOneCookieAtEveryCap(t *testing.T) {
	rnd := rand.New(rand.NewPCG(7, 11))
	policy := config.DefaultTrackingPolicy()
	existing := domain.Record{
		SessionID:        "01JQ0000000000000000000000",
		EventID:          "1900000000000000000",
		LandingTime:      t0,
		UserAgent:        noise(rnd, policy.MaxUserAgentBytes),
		SchemaVersion:    domain.SchemaVersion,
		ConsentGiven:     true,
		FirstReferrer:    policy.Placeholder,
		FirstUTMSource:   policy.Placeholder,
		LastReferrer:     policy.Placeholder,
		LastReferrerTime: t0,
		FBP:              "fb.1.1772366400000.4821937765",
		FBI:              noise(rnd, maxAdIdentityBytes),
		CountryCode:      "DE",
		Currency:         "EUR",
		PageViewFired:    true,
		LastPageViewSent: t0,
		PurchaseFired:    true,
		PurchaseTime:     t0,
		ButtonLocation:   noise(rnd, maxButtonLocationBytes),
	}

	rec := existing
	for i := 0; i < 2; i++ {
		now := t0.Add(time.Duration(i) * time.Hour)
		patch, _, err := BuildCapturePatch(rec, oversizedNavigation(rnd), policy, now)
		require.NoError(t, err)
		rec = Merge(rec, patch, policy.Placeholder)
	}
	require.NotEqual(t, rec.FirstUTMContent, rec.LastUTMContent)
	assert.LessOrEqual(t, len(rec.LastReferrer), maxReferrerBytes)
	assert.LessOrEqual(t, len(rec.LastUTMContent), maxUTMBytes)
	assert.LessOrEqual(t, len(rec.FBClid), maxClickIDBytes)

	encoded, err := codec.EncodeRecord(rec)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(policy.RecordName)+len(encoded), store.MaxCookieBytes)
}

func TestClipKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "ab", clip("  ab  ", 10))
	assert.Equal(t, "a", clip("aé", 2))
	assert.Equal(t, "aé", clip("aé", 3))
}
