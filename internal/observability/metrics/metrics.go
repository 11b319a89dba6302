package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "attribution"

// Touch kinds recorded by RecordTouch.
const (
	TouchFirstReferrer = "first_referrer"
	TouchFirstUTM      = "first_utm"
	TouchLast          = "last"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	touches        *prometheus.CounterVec
	storageWrites  *prometheus.CounterVec
	eventsMarked   *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	protectedClear prometheus.Counter
	geoLookups     *prometheus.CounterVec
	rateLimited    prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewRegistry returns the registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers the domain instruments on reg.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		touches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "touches_recorded_total",
			Help:      "Attribution touches written to tracking records.",
		}, []string{"kind"}),
		storageWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_total",
			Help:      "Tracking record writes by tier and outcome.",
		}, []string{"tier", "outcome"}),
		eventsMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_marked_total",
			Help:      "Conversion events marked as fired.",
		}, []string{"event"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_suppressed_total",
			Help:      "Conversion events suppressed inside the dedup window.",
		}, []string{"event"}),
		protectedClear: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protected_clear_attempts_total",
			Help:      "Attempts to clear write-once attribution fields.",
		}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geo_lookups_total",
			Help:      "Geolocation lookups by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Tracking beacons rejected by the rate limiter.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route"}),
	}

	collectorsToRegister := []prometheus.Collector{
		m.touches, m.storageWrites, m.eventsMarked, m.duplicates,
		m.protectedClear, m.geoLookups, m.rateLimited, m.httpRequests, m.httpDuration,
	}
	for _, c := range collectorsToRegister {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordTouch counts a touch of the given kind.
func (m *Metrics) RecordTouch(kind string) {
	if m == nil {
		return
	}
	m.touches.WithLabelValues(kind).Inc()
}

// ObserveStorageWrite counts a write outcome; it satisfies store.Observer.
func (m *Metrics) ObserveStorageWrite(_ context.Context, tier string, fallback bool, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
		tier = "none"
	case fallback:
		outcome = "fallback"
	}
	m.storageWrites.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) RecordEventMarked(event string) {
	if m == nil {
		return
	}
	m.eventsMarked.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDuplicate(event string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordProtectedClear() {
	if m == nil {
		return
	}
	m.protectedClear.Inc()
}

func (m *Metrics) RecordGeoLookup(outcome string) {
	if m == nil {
		return
	}
	m.geoLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
