package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
	"github.com/GriffinCanCode/looptrace/internal/shared/id"
	"github.com/GriffinCanCode/looptrace/internal/trace"
)

var (
	// ErrRunInProgress is returned when Execute is called while a run is in flight.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrClosed is returned once the recorder has been closed.
	ErrClosed = errors.New("recorder is closed")
)

// Run outcomes reported to metrics.
const (
	OutcomeOK           = "ok"
	OutcomeCompileError = "compile_error"
	OutcomeRuntimeError = "runtime_error"
	OutcomeCancelled    = "cancelled"
)

// Recorder orchestrates runs: it builds a fresh context, runs the source, waits
// for deferred work to settle and keeps the latest result. One run may be in
// flight at a time.
type Recorder struct {
	host      *sandbox.Host
	ownsHost  bool
	runner    *sandbox.Runner
	collector *sandbox.Collector
	window    time.Duration
	ids       *id.Generator
	clock     func() time.Time
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	running atomic.Bool
	closed  atomic.Bool

	mu   sync.RWMutex
	last *trace.Result
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger. Runs are not logged without one.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger.Named("recorder")
		}
	}
}

// WithMetrics records run metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(r *Recorder) { r.metrics = metrics }
}

// WithSettleWindow overrides the collection delay.
func WithSettleWindow(window time.Duration) Option {
	return func(r *Recorder) { r.window = window }
}

// WithClock sets the clock used for output timestamps and run timing.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithIDGenerator sets the run id generator.
func WithIDGenerator(gen *id.Generator) Option {
	return func(r *Recorder) {
		if gen != nil {
			r.ids = gen
		}
	}
}

// New creates a recorder on an existing host. The caller keeps ownership of host.
func New(host *sandbox.Host, opts ...Option) *Recorder {
	r := newRecorder(opts)
	r.attach(host)
	return r
}

// NewWithConfig starts a host from config and creates a recorder that owns it.
// Deferred callback errors are logged and counted unless config already routes
// them. An explicit WithSettleWindow wins over config.SettleWindow.
func NewWithConfig(config sandbox.Config, opts ...Option) (*Recorder, error) {
	r := newRecorder(opts)
	if r.window <= 0 {
		r.window = config.SettleWindow
	}
	if config.OnDeferredError == nil {
		config.OnDeferredError = DeferredErrorReporter(r.logger, r.metrics)
	}
	if r.clock == nil {
		r.clock = config.Clock
	}

	host, err := sandbox.NewHost(config)
	if err != nil {
		return nil, err
	}
	r.attach(host)
	r.ownsHost = true
	return r, nil
}

func newRecorder(opts []Option) *Recorder {
	r := &Recorder{
		ids:    id.Default(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) attach(host *sandbox.Host) {
	if r.clock == nil {
		r.clock = time.Now
	}
	r.host = host
	r.runner = sandbox.NewRunner(host)
	r.collector = sandbox.NewCollector(host, r.window)
}

// DeferredErrorReporter returns a host hook that logs and counts uncaught errors
// from deferred callbacks.
func DeferredErrorReporter(logger *logging.Logger, metrics *monitoring.Metrics) func(*sandbox.DeferredCallbackError) {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(err *sandbox.DeferredCallbackError) {
		logger.Warn("Uncaught error in deferred callback",
			zap.String("source", err.Source),
			zap.String("message", err.Message))
		if metrics != nil {
			metrics.RecordDeferredError(err.Source)
		}
	}
}

// Execute runs source once and returns its result. A compile error or a
// synchronous throw is reported through Result.Failure, not as an error. The
// error return covers a busy or closed recorder and ctx ending before the
// result is complete; in those cases the last result is left untouched.
func (r *Recorder) Execute(ctx context.Context, source string) (*trace.Result, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if !r.running.CompareAndSwap(false, true) {
		if r.metrics != nil {
			r.metrics.RecordBusyRejection()
		}
		return nil, ErrRunInProgress
	}
	defer r.finish()
	if r.metrics != nil {
		r.metrics.SetRunInFlight(true)
	}

	runID := r.ids.NewRunID().String()
	log := r.logger.ForRun(runID)
	started := r.clock()
	ec := sandbox.NewContext(r.clock)

	log.Debug("Run started", zap.Int("source_bytes", len(source)))

	failure, err := r.run(ctx, source, ec)
	if err != nil {
		return nil, r.abort(log, runID, started, err)
	}

	var snap trace.Snapshot
	if failure != nil {
		// No settle wait: a failed run publishes what it had when it threw.
		snap = ec.Snapshot()
	} else {
		snap, err = r.collector.Collect(ctx, ec)
		if err != nil {
			return nil, r.abort(log, runID, started, err)
		}
	}

	result := trace.NewResult(runID, snap, failure, started, r.clock().Sub(started))
	r.mu.Lock()
	r.last = result
	r.mu.Unlock()

	r.observe(log, result)
	return result, nil
}

func (r *Recorder) run(ctx context.Context, source string, ec *sandbox.ExecutionContext) (*trace.Failure, error) {
	err := r.runner.Run(ctx, source, ec)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		return nil, nil
	}

	var runErr *sandbox.CompileOrRuntimeError
	if errors.As(err, &runErr) {
		return runErr.Failure(), nil
	}
	return nil, err
}

func (r *Recorder) abort(log *logging.Logger, runID string, started time.Time, err error) error {
	log.Warn("Run aborted", zap.Error(err))
	if r.metrics != nil {
		r.metrics.RecordRun(OutcomeCancelled, r.clock().Sub(started), 0, 0, 0)
	}
	if errors.Is(err, sandbox.ErrHostClosed) {
		return ErrClosed
	}
	return fmt.Errorf("run %s: %w", runID, err)
}

func (r *Recorder) observe(log *logging.Logger, result *trace.Result) {
	counts := result.Counts()
	outcome := Outcome(result)

	fields := []zap.Field{
		zap.String("outcome", outcome),
		zap.Int("sync", counts.Sync),
		zap.Int("micro", counts.Micro),
		zap.Int("macro", counts.Macro),
		zap.Int("outputs", counts.Outputs),
		zap.Duration("duration", result.Duration),
	}
	if result.Failure != nil {
		fields = append(fields, zap.String("failure", result.Failure.Message))
	}
	log.Info("Run finished", fields...)

	if r.metrics != nil {
		r.metrics.RecordRun(outcome, result.Duration, counts.Sync, counts.Micro, counts.Macro)
	}
}

func (r *Recorder) finish() {
	r.running.Store(false)
	if r.metrics != nil {
		r.metrics.SetRunInFlight(false)
	}
}

// Outcome classifies a result for logs and metrics.
func Outcome(result *trace.Result) string {
	switch {
	case result.Failure == nil:
		return OutcomeOK
	case result.Failure.Phase == trace.PhaseCompile:
		return OutcomeCompileError
	default:
		return OutcomeRuntimeError
	}
}

// Running reports whether a run is in flight.
func (r *Recorder) Running() bool {
	return r.running.Load()
}

// Last returns the most recent completed result.
func (r *Recorder) Last() (*trace.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.last != nil
}

// Reset drops the last result. A run in flight is not affected and will
// publish its result when it completes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.last = nil
	r.mu.Unlock()
	r.logger.Debug("Result cleared")
}

// Status is a point-in-time view of the recorder.
type Status struct {
	Running   bool   `json:"running"`
	HasResult bool   `json:"has_result"`
	LastRunID string `json:"last_run_id,omitempty"`
}

// Status returns the recorder state.
func (r *Recorder) Status() Status {
	last, ok := r.Last()
	s := Status{Running: r.Running(), HasResult: ok}
	if ok {
		s.LastRunID = last.RunID
	}
	return s
}

// SettleWindow returns the collection delay in use.
func (r *Recorder) SettleWindow() time.Duration {
	return r.collector.Window()
}

// Close stops accepting runs and, when the recorder owns its host, stops the loop.
func (r *Recorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.ownsHost {
		return r.host.Close()
	}
	return nil
}
