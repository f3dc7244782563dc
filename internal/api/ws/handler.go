package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/looptrace/internal/api"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/shared/id"
	"github.com/GriffinCanCode/looptrace/internal/trace"
)

const (
	writeTimeout = 5 * time.Second
	// Room for the JSON envelope around a maximal source.
	readLimit = api.MaxSourceSize + 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is wide open for the REST routes as well
	},
}

// Message is a client request.
type Message struct {
	Type   string  `json:"type"`
	Source *string `json:"source,omitempty"`
}

// Reply is a server frame.
type Reply struct {
	Type      string        `json:"type"`
	RunID     string        `json:"run_id,omitempty"`
	Result    *trace.Report `json:"result,omitempty"`
	Running   *bool         `json:"running,omitempty"`
	HasResult *bool         `json:"has_result,omitempty"`
	Message   string        `json:"message,omitempty"`
	Code      int           `json:"code,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// Handler manages WebSocket connections
type Handler struct {
	runs    *api.Runs
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(runs *api.Runs, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{runs: runs, metrics: metrics, logger: logger.Named("ws")}
}

// HandleConnection handles WebSocket upgrade and messages. Requests on one
// connection are served in order.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	log := h.logger.ForConnection(id.NewConnectionID().String())
	log.Debug("Connected")
	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	reqCtx := c.Request.Context()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}
		h.count("in", knownType(msg.Type))

		var sendErr error
		switch msg.Type {
		case "run":
			sendErr = h.handleRun(reqCtx, conn, msg)
		case "reset":
			h.runs.Recorder.Reset()
			sendErr = h.send(conn, Reply{Type: "reset"})
		case "status":
			status := h.runs.Recorder.Status()
			sendErr = h.send(conn, Reply{
				Type:      "status",
				RunID:     status.LastRunID,
				Running:   &status.Running,
				HasResult: &status.HasResult,
			})
		case "ping":
			sendErr = h.send(conn, Reply{Type: "pong"})
		default:
			sendErr = h.sendError(conn, "unknown message type: "+msg.Type, http.StatusBadRequest)
		}

		if sendErr != nil {
			log.Warn("WebSocket write error", zap.Error(sendErr))
			break
		}
		if reqCtx.Err() != nil {
			break
		}
	}
	log.Debug("Disconnected")
}

func (h *Handler) handleRun(ctx context.Context, conn *websocket.Conn, msg Message) error {
	if err := h.send(conn, Reply{Type: "run_started"}); err != nil {
		return err
	}

	// Runs are not tied to the connection: the result is kept as the last
	// result even if the client leaves mid-run.
	result, err := h.runs.RunOptional(context.WithoutCancel(ctx), msg.Source)
	if err != nil {
		return h.sendError(conn, err.Error(), api.StatusCode(err))
	}

	report := result.Report()
	return h.send(conn, Reply{Type: "result", RunID: result.RunID, Result: &report})
}

func (h *Handler) send(conn *websocket.Conn, reply Reply) error {
	reply.Timestamp = time.Now().UnixMilli()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(reply); err != nil {
		return err
	}
	h.count("out", reply.Type)
	return nil
}

func (h *Handler) sendError(conn *websocket.Conn, message string, code int) error {
	return h.send(conn, Reply{Type: "error", Message: message, Code: code})
}

func (h *Handler) count(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}

func knownType(msgType string) string {
	switch msgType {
	case "run", "reset", "status", "ping":
		return msgType
	default:
		return "unknown"
	}
}
