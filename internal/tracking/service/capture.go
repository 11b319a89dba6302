package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/identity"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Caps on captured values. Together they keep a fully populated record well
// inside one cookie whatever a landing URL carries.
const (
	maxReferrerBytes = 256
	maxUTMBytes      = 64
	maxClickIDBytes  = 160
)

// CaptureOutcome describes what a capture decided, for logs and responses.
type CaptureOutcome struct {
	NewSession    bool   `json:"new_session"`
	FirstTouch    bool   `json:"first_touch"`
	LastTouch     bool   `json:"last_touch"`
	Blocked       bool   `json:"blocked"`
	TouchReferrer string `json:"touch_referrer,omitempty"`
}

// Capture inspects one page load and applies the resulting attribution patch.
func (t *Tracker) Capture(ctx context.Context, nav domain.Navigation) (domain.Record, CaptureOutcome, error) {
	ctx, span := t.svc.tracer.Start(ctx, "tracking.Capture")
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	policy := t.svc.Policy()
	existing, _ := t.readOrSeed(ctx)
	patch, outcome, err := BuildCapturePatch(existing, nav, policy, t.now())
	if err != nil {
		return existing, outcome, err
	}
	span.SetAttributes(
		attribute.Bool("tracking.new_session", outcome.NewSession),
		attribute.Bool("tracking.last_touch", outcome.LastTouch),
	)

	rec, err := t.mergeAndWrite(ctx, existing, patch)
	if patch.FBC != nil && rec.FBC == *patch.FBC {
		if _, ferr := t.store.Write(ctx, domain.FieldFBC, rec.FBC, policy.AdIdentityTTL); ferr != nil {
			logger.WithContext(ctx, t.svc.log).Warn("click identifier not persisted", zap.Error(ferr))
		}
	}
	outcome.FirstTouch = rec.FirstReferrer != existing.FirstReferrer || rec.FirstUTMSource != existing.FirstUTMSource
	return rec, outcome, err
}

// BuildCapturePatch derives the patch for one page load. It is pure: the
// same inputs always yield the same patch.
func BuildCapturePatch(existing domain.Record, nav domain.Navigation, policy config.TrackingPolicy, now time.Time) (domain.Patch, CaptureOutcome, error) {
	var outcome CaptureOutcome

	page, err := url.Parse(strings.TrimSpace(nav.PageURL))
	if err != nil || page.Host == "" {
		return domain.Patch{}, outcome, fmt.Errorf("%w: page url %q", domain.ErrInvalidNavigation, nav.PageURL)
	}
	query := page.Query()
	utm := domain.UTM{
		Source:   clip(query.Get("utm_source"), maxUTMBytes),
		Medium:   clip(query.Get("utm_medium"), maxUTMBytes),
		Campaign: clip(query.Get("utm_campaign"), maxUTMBytes),
		Term:     clip(query.Get("utm_term"), maxUTMBytes),
		Content:  clip(query.Get("utm_content"), maxUTMBytes),
	}
	fbclid := clip(query.Get("fbclid"), maxClickIDBytes)

	referrer, refURL := parseReferrer(nav.Referrer)
	referrer = clip(referrer, maxReferrerBytes)
	crossOrigin := refURL != nil && origin(refURL) != origin(page)
	blocked := crossOrigin && IsBlockedHost(refURL.Hostname(), policy.BlockedReferrers)
	external := crossOrigin && !blocked
	outcome.Blocked = blocked
	if blocked {
		utm = domain.UTM{}
	}

	touch := ""
	switch {
	case external:
		touch = referrer
	case utm.Source != "":
		touch = utm.Source
	}
	outcome.TouchReferrer = touch

	var patch domain.Patch

	if !blocked && !existing.FirstReferrerSet(policy.Placeholder) && touch != "" {
		patch.FirstReferrer = domain.String(touch)
		patch.FirstReferrerTime = domain.Time(now)
	}
	if utm.Source != "" && !existing.FirstUTMSet(policy.Placeholder) {
		patch.FirstUTMSource = domain.String(utm.Source)
		patch.FirstUTMMedium = presentOrNil(utm.Medium)
		patch.FirstUTMCampaign = presentOrNil(utm.Campaign)
		patch.FirstUTMTerm = presentOrNil(utm.Term)
		patch.FirstUTMContent = presentOrNil(utm.Content)
	}

	// A record no capture has touched yet still has lastReferrerTime at
	// landingTime. Captures stamp strictly after landing so that stays true
	// only until the first one.
	outcome.NewSession = !existing.LastReferrerTime.After(existing.LandingTime) ||
		now.Sub(existing.LastReferrerTime) > policy.SessionWindow
	touchTime := now
	if !touchTime.After(existing.LandingTime) {
		touchTime = existing.LandingTime.Add(time.Nanosecond)
	}

	entry := external || (refURL == nil && !utm.Empty())
	changed := (touch != "" && touch != existing.LastReferrer) || utmDiffers(utm, existing.LastTouch().UTM)
	if outcome.NewSession || (entry && changed) {
		outcome.LastTouch = true
		last := existing.LastTouch()
		if touch != "" {
			last.Referrer = touch
		}
		patch.LastReferrer = domain.String(last.Referrer)
		patch.LastUTMSource = domain.String(firstNonEmpty(utm.Source, last.UTM.Source))
		patch.LastUTMMedium = domain.String(firstNonEmpty(utm.Medium, last.UTM.Medium))
		patch.LastUTMCampaign = domain.String(firstNonEmpty(utm.Campaign, last.UTM.Campaign))
		patch.LastUTMTerm = domain.String(firstNonEmpty(utm.Term, last.UTM.Term))
		patch.LastUTMContent = domain.String(firstNonEmpty(utm.Content, last.UTM.Content))
		patch.LastReferrerTime = domain.Time(touchTime)
	}

	if fbclid != "" {
		patch.FBClid = domain.String(fbclid)
		if fbclid != existing.FBClid {
			patch.FBC = domain.String(identity.FBCFromClick(fbclid, now))
		}
	}

	if existing.UserAgent == "" {
		if ua := identity.Fingerprint(nav.UserAgent, policy.MaxUserAgentBytes); ua != "" {
			patch.UserAgent = domain.String(ua)
		}
	}

	return patch, outcome, nil
}

// IsBlockedHost reports whether host or one of its parent domains is listed.
func IsBlockedHost(host string, blocked []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	for _, b := range blocked {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

func parseReferrer(raw string) (string, *url.URL) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", nil
	}
	return raw, u
}

func origin(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func utmDiffers(proposed, stored domain.UTM) bool {
	pairs := [][2]string{
		{proposed.Source, stored.Source},
		{proposed.Medium, stored.Medium},
		{proposed.Campaign, stored.Campaign},
		{proposed.Term, stored.Term},
		{proposed.Content, stored.Content},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] != p[1] {
			return true
		}
	}
	return false
}

// clip trims v and cuts it to at most max bytes on a rune boundary.
func clip(v string, max int) string {
	v = strings.TrimSpace(v)
	if len(v) <= max {
		return v
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}

func presentOrNil(v string) *string {
	if v == "" {
		return nil
	}
	return domain.String(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
