package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/GriffinCanCode/looptrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/recorder"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.Trace.SettleWindow = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg, nil, WithMetrics(monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	health := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.NotEmpty(t, health.Header().Get("X-Request-ID"))

	run := do(srv, http.MethodPost, "/run", `{"source":"console.log('hi'); Promise.resolve().then(() => {})"}`)
	require.Equal(t, http.StatusOK, run.Code, run.Body.String())

	var report struct {
		RunID      string            `json:"run_id"`
		MicroTrace []json.RawMessage `json:"micro_trace"`
		Console    []struct {
			Text string `json:"text"`
		} `json:"console"`
	}
	require.NoError(t, json.Unmarshal(run.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.MicroTrace, 1)
	require.Len(t, report.Console, 1)
	assert.Equal(t, "hi", report.Console[0].Text)

	result := do(srv, http.MethodGet, "/result", "")
	assert.Equal(t, http.StatusOK, result.Code)

	metrics := do(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "looptrace_runs_total")
	assert.Contains(t, metrics.Body.String(), `path="/run"`)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/run", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitApplied(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 1
		cfg.RateLimit.Burst = 1
	})

	assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(srv, http.MethodGet, "/health", "").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.RequestsPerSecond = 1
		cfg.RateLimit.Burst = 1
	})

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/health", "").Code)
	}
}

func TestSQLiteStore(t *testing.T) {
	dsn := t.TempDir() + "/looptrace.db"
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Store.Driver = "sqlite"
		cfg.Store.DSN = dsn
	})

	put := do(srv, http.MethodPut, "/source", `{"source":"console.log('saved')"}`)
	require.Equal(t, http.StatusOK, put.Code, put.Body.String())

	run := do(srv, http.MethodPost, "/run", "")
	require.Equal(t, http.StatusOK, run.Code, run.Body.String())
	assert.Contains(t, run.Body.String(), `"saved"`)
}

func TestUnknownStoreDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "redis"

	_, err := NewServer(cfg, nil, WithMetrics(monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())))
	assert.Error(t, err)
}

func TestShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	srv, err := NewServer(cfg, nil, WithMetrics(monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	_, err = srv.Recorder().Execute(context.Background(), "console.log(1)")
	assert.ErrorIs(t, err, recorder.ErrClosed)
}
