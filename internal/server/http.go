package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	pushdomain "retention-notifier/internal/push/domain"
	"retention-notifier/internal/session"
	sessiondomain "retention-notifier/internal/session/domain"
	"retention-notifier/internal/telemetry"
	telemetrydomain "retention-notifier/internal/telemetry/domain"
)

// Tracker records user activity.
type Tracker interface {
	Touch(ctx context.Context, userID int64, a session.Activity) *sessiondomain.Session
	RecordBlock(userID int64, reason string) bool
}

// Subscriptions reacts to a purchased subscription.
type Subscriptions interface {
	OnSubscriptionActivated(ctx context.Context, userID int64, expiresAt *time.Time) error
}

// JobLister lists a user's queued jobs.
type JobLister interface {
	ListByUser(ctx context.Context, userID int64) ([]*pushdomain.Job, error)
}

// Usage records product usage that drives segmentation.
type Usage interface {
	RecordView(ctx context.Context, userID int64, activityID, level string) error
	AddFavorite(ctx context.Context, userID int64, activityID string) error
}

// Readiness reports whether dependencies are reachable.
type Readiness interface {
	Ready(ctx context.Context) error
}

// HTTPDeps holds the ingress dependencies. Health and Emitter may be nil.
type HTTPDeps struct {
	Tracker       Tracker
	Subscriptions Subscriptions
	Jobs          JobLister
	Usage         Usage
	Health        Readiness
	Emitter       telemetry.EventEmitter
}

// NewHTTPHandler returns the ingress router used by the conversational front-end.
func NewHTTPHandler(deps HTTPDeps) *gin.Engine {
	router := gin.New()
	router.Use(Recovery())
	router.Use(RequestTelemetry(deps.Emitter, map[string]bool{"/healthz": true, "/readyz": true}))

	h := &httpHandler{deps: deps}
	users := router.Group("/v1/users/:user_id")
	{
		users.POST("/activity", h.activity)
		users.POST("/paywall-blocks", h.paywallBlock)
		users.POST("/subscription-activated", h.subscriptionActivated)
		users.POST("/views", h.view)
		users.POST("/favorites", h.favorite)
		users.GET("/jobs", h.jobs)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", h.ready)
	return router
}

type httpHandler struct {
	deps HTTPDeps
}

type activityRequest struct {
	Source     string                `json:"source"`
	DeviceInfo string                `json:"device_info"`
	Event      string                `json:"event"`
	Filters    sessiondomain.Filters `json:"filters"`
}

type sessionResponse struct {
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	ActionsCount int       `json:"actions_count"`
}

func (h *httpHandler) activity(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req activityRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	s := h.deps.Tracker.Touch(c.Request.Context(), userID, session.Activity{
		Source:     req.Source,
		DeviceInfo: req.DeviceInfo,
		Event:      req.Event,
		Filters:    req.Filters,
	})
	c.JSON(http.StatusOK, sessionResponse{
		SessionID:    s.ID,
		StartedAt:    s.StartedAt,
		LastSeenAt:   s.LastSeenAt,
		ActionsCount: s.ActionsCount,
	})
}

type paywallBlockRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *httpHandler) paywallBlock(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req paywallBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	recorded := h.deps.Tracker.RecordBlock(userID, req.Reason)
	telemetry.EmitAsync(h.deps.Emitter, c.Request.Context(), telemetrydomain.New(userID, telemetrydomain.EventPaywallBlock, map[string]any{
		"reason": req.Reason,
	}))
	c.JSON(http.StatusAccepted, gin.H{"recorded": recorded})
}

type subscriptionRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *httpHandler) subscriptionActivated(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req subscriptionRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := h.deps.Subscriptions.OnSubscriptionActivated(c.Request.Context(), userID, req.ExpiresAt); err != nil {
		log.Printf("http: subscription activation user=%d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type viewRequest struct {
	ActivityID string `json:"activity_id" binding:"required"`
	Level      string `json:"level" binding:"required"`
}

func (h *httpHandler) view(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activity_id and level are required"})
		return
	}
	if err := h.deps.Usage.RecordView(c.Request.Context(), userID, req.ActivityID, req.Level); err != nil {
		log.Printf("http: record view user=%d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record view failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type favoriteRequest struct {
	ActivityID string `json:"activity_id" binding:"required"`
}

func (h *httpHandler) favorite(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "activity_id is required"})
		return
	}
	if err := h.deps.Usage.AddFavorite(c.Request.Context(), userID, req.ActivityID); err != nil {
		log.Printf("http: add favorite user=%d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add favorite failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type jobResponse struct {
	ID          int64              `json:"id"`
	Type        pushdomain.Type    `json:"type"`
	Status      pushdomain.Status  `json:"status"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	Payload     pushdomain.Payload `json:"payload"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
}

func (h *httpHandler) jobs(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	jobs, err := h.deps.Jobs.ListByUser(c.Request.Context(), userID)
	if err != nil {
		log.Printf("http: list jobs user=%d: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed"})
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{
			ID:          j.ID,
			Type:        j.Type,
			Status:      j.Status,
			ScheduledAt: j.ScheduledAt,
			SentAt:      j.SentAt,
			Payload:     j.Payload,
			Attempts:    j.Attempts,
			LastError:   j.LastError,
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *httpHandler) ready(c *gin.Context) {
	if h.deps.Health != nil {
		if err := h.deps.Health.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// userIDParam parses :user_id and writes a 400 when it is not a positive integer.
func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return id, true
}

// bindOptionalJSON decodes the body into dst when one is present. An empty body is not an error.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	return true
}
