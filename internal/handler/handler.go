// Package handler exposes the RSVP service over HTTP with gin.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rsvp/internal/apperr"
	"rsvp/internal/attendance"
	"rsvp/internal/auth"
	"rsvp/internal/broadcast"
)

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	svc       *attendance.Service
	hub       *broadcast.Hub
	staff     *auth.Authenticator
	checks    []HealthCheck
	log       zerolog.Logger
	keepalive time.Duration
}

func New(svc *attendance.Service, hub *broadcast.Hub, staff *auth.Authenticator, log zerolog.Logger, checks ...HealthCheck) *Handler {
	return &Handler{
		svc:       svc,
		hub:       hub,
		staff:     staff,
		checks:    checks,
		log:       log,
		keepalive: 25 * time.Second,
	}
}

// Register mounts every route on r. Guest registration is public; lookups,
// check-in and the dashboard feeds sit behind staff auth when it is enabled.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	api.POST("/rsvp", h.CreateRSVP)
	api.POST("/staff/sessions", h.StaffLogin)

	staff := api.Group("", auth.StaffAuth(h.staff))
	staff.GET("/rsvp/:code", h.LookupByCode)
	staff.GET("/rsvp", h.LookupByPhone)
	staff.POST("/rsvp/scan", h.Scan)
	staff.POST("/rsvp/lookup", h.Lookup)
	staff.PATCH("/rsvp/:id/attended", h.CheckIn)
	staff.GET("/rsvps", h.List)
	staff.GET("/stats", h.Stats)
	staff.GET("/events", h.Stream)
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for _, hc := range h.checks {
		ok := hc.Check(ctx) == nil
		results[hc.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func (h *Handler) StaffLogin(c *gin.Context) {
	var req struct {
		DeviceID string `json:"deviceId"`
		PIN      string `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, attendance.ErrInvalidInput.With("invalid or missing request body"))
		return
	}
	sess, err := h.staff.Login(req.DeviceID, req.PIN)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info().Str("device_id", req.DeviceID).Msg("staff session issued")
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt.UTC(),
	})
}

// fail renders err as {"success":false,"kind","code","message"}.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.KindInternal, "", "internal error", err)
	}
	status := apperr.HTTPStatus(ae.Kind)
	msg := ae.Message
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		if ae.Kind == apperr.KindInternal {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"kind":    ae.Kind,
		"code":    ae.Code,
		"message": msg,
	})
}
