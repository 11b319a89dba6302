package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/attribution/internal/observability/context"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
	"github.com/smallbiznis/attribution/internal/tracking/service"
	"github.com/smallbiznis/attribution/internal/tracking/store"
	"go.uber.org/zap"
)

// tracker binds a Tracker to the caller's cookies and, when the page sent a
// tab id, to that tab's volatile copy.
func (s *Server) tracker(c *gin.Context) *service.Tracker {
	tiers := []store.Tier{store.NewCookieTier(c, store.CookieOptions{
		Domain:   s.cfg.Cookie.Domain,
		Secure:   s.cfg.Cookie.Secure,
		HTTPOnly: s.cfg.Cookie.HTTPOnly,
	})}
	if tab := s.tabs.Tier(c.GetHeader(logger.TabIDHeader)); tab != nil {
		tiers = append(tiers, tab)
	}
	adapter := store.NewAdapter(s.log, s.metrics, tiers...)
	return s.tracking.Tracker(adapter, c.Request.UserAgent())
}

// settle separates a storage outage, which the page tolerates, from real
// failures. It reports whether the value was persisted and whether the
// handler may continue.
func (s *Server) settle(c *gin.Context, err error) (persisted bool, ok bool) {
	if err == nil {
		return true, true
	}
	if errors.Is(err, domain.ErrStorageUnavailable) {
		logger.WithContext(c.Request.Context(), s.log).Warn("tracking storage unavailable", zap.Error(err))
		logger.SetOutcome(c, "not_persisted")
		return false, true
	}
	AbortWithError(c, err)
	return false, false
}

func withSession(c *gin.Context, rec domain.Record) {
	if rec.SessionID == "" {
		return
	}
	c.Request = c.Request.WithContext(obscontext.WithSessionID(c.Request.Context(), rec.SessionID))
}

func beaconOutcome(duplicate bool) string {
	if duplicate {
		return "duplicate"
	}
	return "fired"
}

type pageViewRequest struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

func (s *Server) TrackPageView(c *gin.Context) {
	var req pageViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		AbortWithError(c, newValidationError("url", "required", "url is required"))
		return
	}

	tr := s.tracker(c)
	rec, outcome, err := tr.Capture(c.Request.Context(), domain.Navigation{
		PageURL:   req.URL,
		Referrer:  req.Referrer,
		UserAgent: c.Request.UserAgent(),
	})
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	withSession(c, rec)
	if !persisted {
		// The stored record is unchanged. Further writes would read it back
		// and could only repeat the failure, so answer from the merged view.
		c.JSON(http.StatusOK, gin.H{
			"data": gin.H{
				"attribution": service.ParamsFrom(rec),
				"capture":     outcome,
				"duplicate":   false,
				"fbp":         rec.FBP,
			},
			"persisted": false,
		})
		return
	}
	ctx := c.Request.Context()

	if _, err := tr.EnsureLocation(ctx, c.ClientIP()); err != nil {
		p, ok := s.settle(c, err)
		if !ok {
			return
		}
		persisted = persisted && p
	}
	fbp, err := tr.EnsureFBP(ctx)
	if err != nil {
		p, ok := s.settle(c, err)
		if !ok {
			return
		}
		persisted = persisted && p
	}
	duplicate, rec, err := tr.TrackPageView(ctx)
	p, ok := s.settle(c, err)
	if !ok {
		return
	}
	if persisted && p {
		logger.SetOutcome(c, beaconOutcome(duplicate))
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"attribution": service.ParamsFrom(rec),
			"capture":     outcome,
			"duplicate":   duplicate,
			"fbp":         fbp,
		},
		"persisted": persisted && p,
	})
}

func (s *Server) GetAttribution(c *gin.Context) {
	params, err := s.tracker(c).AttributionParams(c.Request.Context())
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": params, "persisted": persisted})
}

func (s *Server) GetRecord(c *gin.Context) {
	rec, err := s.tracker(c).Snapshot(c.Request.Context())
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec, "persisted": persisted})
}

func (s *Server) GetAdIdentity(c *gin.Context) {
	name := c.Param("name")
	value, err := s.tracker(c).AdIdentity(c.Request.Context(), name)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"name": name, "value": value},
		"persisted": persisted,
	})
}

type setAdIdentityRequest struct {
	Value string `json:"value"`
}

func (s *Server) SetAdIdentity(c *gin.Context) {
	var req setAdIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	name := c.Param("name")
	rec, err := s.tracker(c).SetAdIdentity(c.Request.Context(), name, req.Value)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"name": name, "value": rec.AdIdentityValue(name)},
		"persisted": persisted,
	})
}

func (s *Server) TrackPurchase(c *gin.Context) {
	tr := s.tracker(c)
	ctx := c.Request.Context()

	current, err := tr.Snapshot(ctx)
	if _, ok := s.settle(c, err); !ok {
		return
	}
	withSession(c, current)
	ctx = c.Request.Context()

	release, claimed, err := s.limiter.ClaimPurchase(ctx, current.SessionID)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("purchase claim unavailable", zap.Error(err))
	}
	defer release()
	if !claimed {
		s.metrics.RecordDuplicate(service.EventPurchase)
		logger.SetOutcome(c, "claimed_elsewhere")
		c.JSON(http.StatusOK, gin.H{
			"data":      gin.H{"duplicate": true, "event_id": current.EventID},
			"persisted": true,
		})
		return
	}

	duplicate, rec, err := tr.TrackPurchase(ctx)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	if persisted {
		logger.SetOutcome(c, beaconOutcome(duplicate))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"duplicate": duplicate, "event_id": rec.EventID},
		"persisted": persisted,
	})
}

func (s *Server) IsDuplicatePurchase(c *gin.Context) {
	duplicate, err := s.tracker(c).IsDuplicatePurchase(c.Request.Context())
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"duplicate": duplicate}, "persisted": persisted})
}

func (s *Server) TrackInitiateCheckout(c *gin.Context) {
	rec, err := s.tracker(c).MarkInitiateCheckoutFired(c.Request.Context())
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"initiate_checkout_fired": rec.InitiateCheckoutFired, "event_id": rec.EventID},
		"persisted": persisted,
	})
}

type clearFieldsRequest struct {
	Fields []string `json:"fields"`
}

func (s *Server) ClearFields(c *gin.Context) {
	var req clearFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Fields) == 0 {
		AbortWithError(c, newValidationError("fields", "required", "fields are required"))
		return
	}

	rec, err := s.tracker(c).ClearFields(c.Request.Context(), req.Fields)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec, "persisted": persisted})
}

type buttonLocationRequest struct {
	Location string `json:"location"`
}

func (s *Server) SetButtonLocation(c *gin.Context) {
	var req buttonLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	rec, err := s.tracker(c).SetButtonLocation(c.Request.Context(), req.Location)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"button_location": rec.ButtonLocation},
		"persisted": persisted,
	})
}

func (s *Server) ListExperiments(c *gin.Context) {
	exp := s.tracker(c).Experiments(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": exp})
}

type assignExperimentRequest struct {
	Name    string `json:"name"`
	Variant string `json:"variant"`
}

func (s *Server) AssignExperiment(c *gin.Context) {
	var req assignExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	exp, assigned, err := s.tracker(c).AssignExperiment(c.Request.Context(), req.Name, req.Variant)
	persisted, ok := s.settle(c, err)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      gin.H{"experiments": exp, "assigned": assigned},
		"persisted": persisted,
	})
}
