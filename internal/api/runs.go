// Package api holds what the HTTP and WebSocket transports share: running a
// source with the configured limits and mapping failures to status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GriffinCanCode/looptrace/internal/recorder"
	"github.com/GriffinCanCode/looptrace/internal/store"
	"github.com/GriffinCanCode/looptrace/internal/trace"
)

// MaxSourceSize caps the source text accepted for a run or a save.
const MaxSourceSize = 256 * 1024

// DefaultRunTimeout bounds one run when none is configured.
const DefaultRunTimeout = 10 * time.Second

// ErrSourceTooLarge is returned for source text over MaxSourceSize.
var ErrSourceTooLarge = fmt.Errorf("source exceeds %d bytes", MaxSourceSize)

// Runs runs sources on behalf of a transport.
type Runs struct {
	Recorder *recorder.Recorder
	Sources  *store.Sources
	Timeout  time.Duration
}

// NewRuns creates the shared run facade. A non-positive timeout uses DefaultRunTimeout.
func NewRuns(rec *recorder.Recorder, sources *store.Sources, timeout time.Duration) *Runs {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Runs{Recorder: rec, Sources: sources, Timeout: timeout}
}

// Run executes source under the run timeout.
func (r *Runs) Run(ctx context.Context, source string) (*trace.Result, error) {
	if err := CheckSource(source); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return r.Recorder.Execute(ctx, source)
}

// RunSaved executes the saved editor text.
func (r *Runs) RunSaved(ctx context.Context) (*trace.Result, error) {
	source, err := r.Sources.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	return r.Run(ctx, source)
}

// RunOptional runs source when given, the saved text otherwise.
func (r *Runs) RunOptional(ctx context.Context, source *string) (*trace.Result, error) {
	if source == nil {
		return r.RunSaved(ctx)
	}
	return r.Run(ctx, *source)
}

// CheckSource validates source text before it is run or saved.
func CheckSource(source string) error {
	if len(source) > MaxSourceSize {
		return ErrSourceTooLarge
	}
	return nil
}

// StatusCode maps a run or store error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, recorder.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}
