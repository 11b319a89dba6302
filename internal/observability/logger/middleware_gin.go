package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/attribution/internal/observability/context"
	"go.uber.org/zap"
)

const (
	// TabIDHeader carries the per-tab identifier the page keeps in sessionStorage.
	TabIDHeader     = "X-Tab-Id"
	RequestIDHeader = "X-Request-Id"

	// OutcomeKey is the gin context key handlers use to report what a beacon did
	// (fired, duplicate, new_session and so on).
	OutcomeKey = "tracking.outcome"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	ErrorClassifier func(err error) (string, string)
}

// SetOutcome records a beacon outcome for the request log line.
func SetOutcome(c *gin.Context, outcome string) {
	c.Set(OutcomeKey, outcome)
}

// GinMiddleware attaches request and tab ids to the context and writes one
// log line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		if tabID := strings.TrimSpace(c.GetHeader(TabIDHeader)); tabID != "" {
			ctx = obscontext.WithTabID(ctx, tabID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if outcome := c.GetString(OutcomeKey); outcome != "" {
			fields = append(fields, zap.String("outcome", outcome))
		}
		if lastErr := c.Errors.Last(); lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, errorCode := cfg.ErrorClassifier(lastErr.Err)
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
		}

		log := FromContext(c.Request.Context())
		switch {
		case quiet(c.Request.Method, route):
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

// quiet keeps health checks, scrapes and CORS preflights out of info logs.
func quiet(method, route string) bool {
	if method == http.MethodOptions {
		return true
	}
	switch route {
	case "/metrics", "/health":
		return true
	}
	return false
}
