// Package geo resolves a client address to a country and currency.
package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/attribution/internal/cache"
	"github.com/smallbiznis/attribution/internal/config"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"github.com/smallbiznis/attribution/internal/observability/tracing"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Lookup outcomes reported to metrics.
const (
	OutcomeHit      = "cache_hit"
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

const maxBodyBytes = 64

type Params struct {
	fx.In

	Config  config.Config
	Cache   cache.LocationCache
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Locator resolves addresses through an HTTP country endpoint. It never
// fails: every error degrades to the configured default location.
type Locator struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	cache    cache.LocationCache
	defaults domain.Location
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	group    singleflight.Group
}

func NewLocator(p Params) *Locator {
	geo := p.Config.Geo
	timeout := geo.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Locator{
		endpoint: geo.Endpoint,
		timeout:  timeout,
		client:   tracing.WrapHTTPClient(&http.Client{Timeout: timeout}),
		cache:    p.Cache,
		defaults: domain.Location{CountryCode: geo.DefaultCountry, Currency: geo.DefaultCurrency},
		log:      p.Log.Named("geo"),
		metrics:  p.Metrics,
	}
}

func (l *Locator) Locate(ctx context.Context, ip string) (domain.Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.IsGlobalUnicast() || addr.IsPrivate() {
		l.metrics.RecordGeoLookup(OutcomeSkipped)
		return l.defaults, nil
	}
	key := addr.String()

	if l.cache != nil {
		if loc, ok := l.cache.GetLocation(ctx, key); ok {
			l.metrics.RecordGeoLookup(OutcomeHit)
			return loc, nil
		}
	}

	// Concurrent first page views from one address share a single lookup.
	v, err, _ := l.group.Do(key, func() (any, error) {
		return l.fetch(ctx, key)
	})
	if err != nil {
		l.metrics.RecordGeoLookup(OutcomeFailed)
		logger.WithContext(ctx, l.log).Warn("geolocation lookup failed, using default",
			zap.String("default_country", l.defaults.CountryCode), zap.Error(err))
		return l.defaults, nil
	}

	loc := v.(domain.Location)
	l.metrics.RecordGeoLookup(OutcomeResolved)
	if l.cache != nil {
		l.cache.SetLocation(ctx, key, loc)
	}
	return loc, nil
}

func (l *Locator) fetch(ctx context.Context, ip string) (domain.Location, error) {
	if l.endpoint == "" {
		return domain.Location{}, fmt.Errorf("geolocation endpoint not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	target := strings.ReplaceAll(l.endpoint, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.Location{}, err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := l.client.Do(req)
	if err != nil {
		return domain.Location{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Location{}, fmt.Errorf("geolocation endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Location{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(string(body)))
	if !validCountryCode(code) {
		return domain.Location{}, fmt.Errorf("geolocation endpoint returned invalid country %q", code)
	}
	currency := CurrencyFor(code)
	if currency == "" {
		currency = l.defaults.Currency
	}
	return domain.Location{CountryCode: code, Currency: currency}, nil
}

func validCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
