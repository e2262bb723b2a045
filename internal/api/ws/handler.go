package ws

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/lectern/internal/domain/lecture"
	"github.com/GriffinCanCode/lectern/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS middleware
	},
}

// Handler streams view lifecycle events over WebSocket
type Handler struct {
	manager *lecture.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *lecture.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleStream upgrades the request and forwards the view's events until
// the view closes or the client goes away
func (h *Handler) HandleStream(c *gin.Context) {
	viewID, err := id.ParseViewID(c.Param("viewId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	view, err := h.manager.Get(viewID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "view_not_found", "message": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	logger := h.logger.With(zap.String("view_id", viewID.String()))
	logger.Debug("Stream opened")

	events, cancel := view.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go h.readPump(conn, gone)

	// the current state goes first so late subscribers start consistent
	if err := h.send(conn, lecture.Event{
		Type:   lecture.EventState,
		ViewID: view.ID,
		State:  view.State(),
		Time:   time.Now(),
	}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.close(conn, "view closed")
				logger.Debug("Stream finished")
				return
			}
			if err := h.send(conn, ev); err != nil {
				logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug("Stream client disconnected")
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// readPump consumes control frames so pongs and close frames are handled.
// Clients have nothing to say on this stream; data frames are dropped.
func (h *Handler) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", "ignored")
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, ev lecture.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", ev.Type)
	}
	return nil
}

func (h *Handler) close(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
