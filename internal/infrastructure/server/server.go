package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/looptrace/internal/api"
	httpapi "github.com/GriffinCanCode/looptrace/internal/api/http"
	"github.com/GriffinCanCode/looptrace/internal/api/middleware"
	"github.com/GriffinCanCode/looptrace/internal/api/ws"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/recorder"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
	"github.com/GriffinCanCode/looptrace/internal/store"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	recorder *recorder.Recorder
	store    store.Store
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	metrics *monitoring.Metrics
}

// WithMetrics uses metrics instead of a fresh registry.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Initializing looptrace server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("settle_window", cfg.Trace.SettleWindow),
		zap.String("store", cfg.Store.Driver),
	)

	metrics := o.metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	kv, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.SettleWindow = cfg.Trace.SettleWindow
	sandboxCfg.MaxCallStackSize = cfg.Trace.MaxCallStackSize

	rec, err := recorder.NewWithConfig(sandboxCfg,
		recorder.WithLogger(logger),
		recorder.WithMetrics(metrics),
	)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	runs := api.NewRuns(rec, store.NewSources(kv, metrics), cfg.Trace.RunTimeout)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	httpapi.NewHandlers(runs, metrics, logger).Register(router)
	router.GET("/stream", ws.NewHandler(runs, metrics, logger).HandleConnection)
	router.GET("/metrics", metrics.GinHandler())

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		recorder: rec,
		store:    kv,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Recorder returns the recorder behind the routes.
func (s *Server) Recorder() *recorder.Recorder {
	return s.recorder
}

// Run starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains connections, then releases the sandbox and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the sandbox and the store without touching the listener.
func (s *Server) Close() error {
	var errs []error
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close recorder: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
