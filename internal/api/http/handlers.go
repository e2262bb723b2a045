package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/lectern/internal/domain/lecture"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/lectern/internal/providers/content"
	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"github.com/GriffinCanCode/lectern/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *lecture.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(manager *lecture.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		manager: manager,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// EventRequest is the body of a host event dispatch
type EventRequest struct {
	Target string `json:"target"`
	Type   string `json:"type" binding:"required"`
	Detail any    `json:"detail"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "lectern",
		"version": "0.1.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if active := h.manager.Active(); active != nil {
		resp["active_view"] = gin.H{
			"view_id":    active.ID,
			"content_id": active.ContentID,
			"state":      active.State(),
		}
	}
	if h.metrics != nil {
		resp["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsJSON returns the metrics snapshot as JSON for dashboards that do
// not scrape Prometheus
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics_disabled", "message": "metrics are not enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now(),
		"backend":   h.metrics.Snapshot(),
	})
}

// MountLecture loads, injects and executes a lecture in a fresh view,
// tearing down whatever view was active before
func (h *Handlers) MountLecture(c *gin.Context) {
	contentID := c.Param("id")
	if err := utils.ValidateContentID(contentID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	token := bearerToken(c.GetHeader("Authorization"))

	view, err := h.manager.Mount(c.Request.Context(), contentID, token)
	if err != nil {
		status := statusFor(err)
		info := lecture.Describe(err)
		h.logger.Info("Lecture mount failed",
			zap.String("content_id", contentID),
			zap.Int("status", status),
			zap.Error(err))

		resp := gin.H{
			"error":   info.Kind,
			"message": info.Message,
		}
		if view != nil {
			resp["view"] = view.Snapshot(false)
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"view": view.Snapshot(false)})
}

// GetView describes a view; ?markup=1 includes the injected markup
func (h *Handlers) GetView(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}
	withMarkup, _ := strconv.ParseBool(c.DefaultQuery("markup", "0"))
	c.JSON(http.StatusOK, gin.H{"view": view.Snapshot(withMarkup)})
}

// DispatchEvent fires a host event into a view's content
func (h *Handlers) DispatchEvent(c *gin.Context) {
	view, ok := h.lookup(c)
	if !ok {
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = sandbox.TargetWindow
	}
	for _, err := range []error{utils.ValidateEventType(req.Type), utils.ValidateTarget(req.Target)} {
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}

	delivered, err := view.Dispatch(c.Request.Context(), req.Target, req.Type, req.Detail)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, lecture.ErrViewClosed):
			status = http.StatusConflict
		case errors.Is(err, sandbox.ErrNoTarget):
			status = http.StatusNotFound
		case errors.Is(err, sandbox.ErrTimeout):
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "dispatch_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target":    req.Target,
		"type":      req.Type,
		"delivered": delivered,
	})
}

// UnmountView tears a view down. Repeating the call is harmless.
func (h *Handlers) UnmountView(c *gin.Context) {
	viewID, ok := parseViewID(c)
	if !ok {
		return
	}

	result, err := h.manager.Unmount(c.Request.Context(), viewID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view_not_found", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"view_id":  viewID,
		"teardown": result,
	})
}

func (h *Handlers) lookup(c *gin.Context) (*lecture.View, bool) {
	viewID, ok := parseViewID(c)
	if !ok {
		return nil, false
	}
	view, err := h.manager.Get(viewID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view_not_found", "message": err.Error()})
		return nil, false
	}
	return view, true
}

func parseViewID(c *gin.Context) (id.ViewID, bool) {
	viewID, err := id.ParseViewID(c.Param("viewId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return "", false
	}
	return viewID, true
}

// statusFor maps a mount failure onto an HTTP status
func statusFor(err error) int {
	switch content.KindOf(err) {
	case content.KindUnauthorized:
		return http.StatusUnauthorized
	case content.KindForbidden:
		return http.StatusForbidden
	case content.KindNotFound:
		return http.StatusNotFound
	case content.KindEmptyContent:
		return http.StatusUnprocessableEntity
	case content.KindTransport:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, lecture.ErrViewClosed):
		return http.StatusConflict
	case errors.Is(err, lecture.ErrContainerNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
