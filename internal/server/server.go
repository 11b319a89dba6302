package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/attribution/internal/config"
	obslogger "github.com/smallbiznis/attribution/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/attribution/internal/observability/metrics"
	obstracing "github.com/smallbiznis/attribution/internal/observability/tracing"
	"github.com/smallbiznis/attribution/internal/ratelimit"
	"github.com/smallbiznis/attribution/internal/tracking/service"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, registry *prometheus.Registry, m *obsmetrics.Metrics) *gin.Engine {
	if !cfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	return r
}

func registerGin(cfg config.Config, registry *prometheus.Registry, m *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(cfg, registry, m)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	tracking *service.Service
	tabs     *store.TabRegistry
	limiter  *ratelimit.BeaconLimiter
	metrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Log      *zap.Logger
	Tracking *service.Service
	Tabs     *store.TabRegistry
	Limiter  *ratelimit.BeaconLimiter `optional:"true"`
	Metrics  *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		log:      log.Named("http.server"),
		tracking: p.Tracking,
		tabs:     p.Tabs,
		limiter:  p.Limiter,
		metrics:  p.Metrics,
	}

	if origins := p.Cfg.Cookie.AllowedOrigins; len(origins) > 0 {
		svc.engine.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders:     []string{"Content-Type", obslogger.TabIDHeader, obslogger.RequestIDHeader},
			ExposeHeaders:    []string{obslogger.RequestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	svc.registerTrackingRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerTrackingRoutes() {
	track := s.engine.Group("/v1/track")
	track.Use(s.BeaconRateLimit())

	track.POST("/pageview", s.TrackPageView)
	track.GET("/attribution", s.GetAttribution)
	track.GET("/record", s.GetRecord)

	track.GET("/ad-identity/:name", s.GetAdIdentity)
	track.PUT("/ad-identity/:name", s.SetAdIdentity)

	track.POST("/events/purchase", s.TrackPurchase)
	track.GET("/events/purchase/duplicate", s.IsDuplicatePurchase)
	track.POST("/events/initiate-checkout", s.TrackInitiateCheckout)

	track.POST("/clear", s.ClearFields)
	track.POST("/button", s.SetButtonLocation)

	track.GET("/experiments", s.ListExperiments)
	track.POST("/experiments", s.AssignExperiment)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
