package service

import (
	"github.com/smallbiznis/attribution/internal/clock"
	"github.com/smallbiznis/attribution/internal/config"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/identity"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.PolicyHolder
	IDs     *identity.Generator
	Metrics *obsmetrics.Metrics `optional:"true"`
	Locator domain.Locator      `optional:"true"`
}

// Service builds request-scoped Trackers over a caller-supplied store.
type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.PolicyHolder
	ids     *identity.Generator
	metrics *obsmetrics.Metrics
	locator domain.Locator
	tracer  trace.Tracer
}

func New(p Params) *Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:     log.Named("tracking.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		ids:     p.IDs,
		metrics: p.Metrics,
		locator: p.Locator,
		tracer:  otel.Tracer("attribution/tracking"),
	}
}

// Tracker binds the service to one browser's storage. userAgent seeds the
// record's device string when a record has to be created.
func (s *Service) Tracker(st *store.Adapter, userAgent string) *Tracker {
	return &Tracker{svc: s, store: st, userAgent: userAgent}
}

func (s *Service) Policy() config.TrackingPolicy {
	return s.policy.Current()
}
