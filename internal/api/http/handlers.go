package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/looptrace/internal/api"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/recorder"
)

// Version is reported by the root and health endpoints.
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	runs    *api.Runs
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(runs *api.Runs, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{runs: runs, metrics: metrics, logger: logger.Named("http")}
}

// RunRequest is the body of POST /run. A missing source runs the saved text.
type RunRequest struct {
	Source *string `json:"source"`
}

// SourceRequest is the body of PUT /source.
type SourceRequest struct {
	Source *string `json:"source" binding:"required"`
}

// Register mounts every route on router.
func (h *Handlers) Register(router gin.IRoutes) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)
	router.POST("/run", h.Run)
	router.POST("/reset", h.Reset)
	router.GET("/result", h.Result)
	router.GET("/source", h.GetSource)
	router.PUT("/source", h.PutSource)
	router.DELETE("/source", h.RestoreSource)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "looptrace",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"version": Version,
		"run":     h.runs.Recorder.Status(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, body)
}

// Status reports whether a run is in flight and whether a result is available
func (h *Handlers) Status(c *gin.Context) {
	status := h.runs.Recorder.Status()
	c.JSON(http.StatusOK, gin.H{
		"running":          status.Running,
		"has_result":       status.HasResult,
		"last_run_id":      status.LastRunID,
		"settle_window_ms": h.runs.Recorder.SettleWindow().Milliseconds(),
	})
}

// Run executes the posted source, or the saved one, and returns its traces
func (h *Handlers) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	result, err := h.runs.RunOptional(c.Request.Context(), req.Source)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Report())
}

// Reset clears the last result
func (h *Handlers) Reset(c *gin.Context) {
	h.runs.Recorder.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// Result returns the last completed result
func (h *Handlers) Result(c *gin.Context) {
	result, ok := h.runs.Recorder.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result"})
		return
	}
	c.JSON(http.StatusOK, result.Report())
}

// GetSource returns the saved editor text
func (h *Handlers) GetSource(c *gin.Context) {
	source, err := h.runs.Sources.Load(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": source})
}

// PutSource saves the editor text
func (h *Handlers) PutSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := api.CheckSource(*req.Source); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.runs.Sources.Save(c.Request.Context(), *req.Source); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": *req.Source})
}

// RestoreSource drops the saved text so the sample program is served again
func (h *Handlers) RestoreSource(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.runs.Sources.Restore(ctx); err != nil {
		h.fail(c, err)
		return
	}
	source, err := h.runs.Sources.Load(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": source})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := api.StatusCode(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, recorder.ErrClosed) {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
