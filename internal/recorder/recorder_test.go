package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/looptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
	"github.com/GriffinCanCode/looptrace/internal/store"
	"github.com/GriffinCanCode/looptrace/internal/trace"
)

const testWindow = 30 * time.Millisecond

const loopScript = `console.log('1');
setTimeout(() => console.log('2'), 0);
new Promise(r => { console.log('3'); r(); }).then(() => console.log('4'));`

func newTestRecorder(t *testing.T, opts ...Option) *Recorder {
	t.Helper()
	config := sandbox.DefaultConfig()
	config.SettleWindow = testWindow
	r, err := NewWithConfig(config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// ignoreTiming drops everything that legitimately differs between two runs of
// the same source.
var ignoreTiming = cmp.Options{
	cmpopts.IgnoreFields(trace.Result{}, "RunID", "StartedAt", "Duration"),
	cmpopts.IgnoreFields(trace.Output{}, "Timestamp"),
}

func TestExecuteEventLoopScenario(t *testing.T) {
	r := newTestRecorder(t)

	result, err := r.Execute(context.Background(), loopScript)
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "3", "4", "2"}, result.Texts())
	assert.Len(t, result.SyncTrace, 4)
	require.Len(t, result.MicroTrace, 1)
	assert.Equal(t, "Promise.then() - callback enqueued", result.MicroTrace[0].Description)
	require.Len(t, result.MacroTrace, 1)
	assert.Equal(t, "setTimeout(..., 0) - callback enqueued", result.MacroTrace[0].Description)
	assert.False(t, result.Failed())
	assert.Regexp(t, `^run_`, result.RunID)
	assert.GreaterOrEqual(t, result.Duration, testWindow)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Same(t, result, last)
}

func TestExecuteDefaultSource(t *testing.T) {
	r := newTestRecorder(t)

	result, err := r.Execute(context.Background(), store.DefaultSource)
	require.NoError(t, err)

	texts := make([]string, len(result.Outputs))
	for i, o := range result.Outputs {
		texts[i] = o.Text[:1]
	}
	require.Len(t, texts, 7)
	// Sync lines, then the first continuation, then the timers. Two zero-delay
	// timers registered microseconds apart are not ordered by the loop, so only
	// the microtask queued inside the first timer is pinned to it.
	assert.Equal(t, []string{"1", "4", "7", "5"}, texts[:4])
	assert.ElementsMatch(t, []string{"2", "3", "6"}, texts[4:])
	assert.Less(t, indexOf(texts, "2"), indexOf(texts, "3"))

	assert.Len(t, result.SyncTrace, 7)
	assert.Len(t, result.MicroTrace, 2)
	assert.Len(t, result.MacroTrace, 2)
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}

func TestExecuteIsIdempotent(t *testing.T) {
	r := newTestRecorder(t)

	first, err := r.Execute(context.Background(), loopScript)
	require.NoError(t, err)
	second, err := r.Execute(context.Background(), loopScript)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, ignoreTiming); diff != "" {
		t.Errorf("repeated run differs (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestExecuteFailures(t *testing.T) {
	r := newTestRecorder(t)

	tests := []struct {
		name        string
		source      string
		wantPhase   trace.Phase
		wantMessage string
		wantTexts   []string
		wantOutcome string
	}{
		{
			name:        "runtime error keeps earlier output",
			source:      `console.log("a"); throw new Error("x");`,
			wantPhase:   trace.PhaseRuntime,
			wantMessage: "Error: x",
			wantTexts:   []string{"a"},
			wantOutcome: OutcomeRuntimeError,
		},
		{
			name:        "syntax error",
			source:      "console.log(",
			wantPhase:   trace.PhaseCompile,
			wantTexts:   []string{},
			wantOutcome: OutcomeCompileError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Execute(context.Background(), tt.source)
			require.NoError(t, err)
			require.True(t, result.Failed())

			assert.Equal(t, tt.wantPhase, result.Failure.Phase)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, result.Failure.Message)
			}
			assert.Equal(t, tt.wantTexts, result.Texts())
			assert.Equal(t, tt.wantOutcome, Outcome(result))

			console := result.Console()
			require.Len(t, console, len(tt.wantTexts)+1)
			assert.Equal(t, trace.OutputError, console[len(console)-1].Kind)
			assert.Equal(t, result.Failure.Message, console[len(console)-1].Text)
		})
	}
}

func TestFailedRunSkipsSettling(t *testing.T) {
	config := sandbox.DefaultConfig()
	config.SettleWindow = time.Second
	r, err := NewWithConfig(config)
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	result, err := r.Execute(context.Background(), "setTimeout(() => {}, 0); throw new Error('stop')")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, result.MacroTrace, 1)
}

func TestExecuteLongTimerExcluded(t *testing.T) {
	r := newTestRecorder(t)

	result, err := r.Execute(context.Background(), "setTimeout(() => console.log('late'), 500)")
	require.NoError(t, err)

	assert.Empty(t, result.Outputs)
	assert.Len(t, result.MacroTrace, 1)
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	r := newTestRecorder(t, WithMetrics(metrics), WithSettleWindow(200*time.Millisecond))

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		_, err := r.Execute(context.Background(), "console.log('slow')")
		assert.NoError(t, err)
	}()
	<-started

	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	_, err := r.Execute(context.Background(), "console.log('fast')")
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.True(t, r.Status().Running)

	wg.Wait()
	assert.False(t, r.Running())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BusyRejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RunsTotal.WithLabelValues(OutcomeOK)))

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"slow"}, last.Texts())
}

func TestReset(t *testing.T) {
	r := newTestRecorder(t)

	assert.Equal(t, Status{}, r.Status())

	result, err := r.Execute(context.Background(), "console.log('x')")
	require.NoError(t, err)
	assert.Equal(t, Status{HasResult: true, LastRunID: result.RunID}, r.Status())

	r.Reset()
	_, ok := r.Last()
	assert.False(t, ok)
	assert.Equal(t, Status{}, r.Status())

	// Reset with nothing recorded is a no-op.
	r.Reset()
}

func TestExecuteCancelled(t *testing.T) {
	r := newTestRecorder(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, "while (true) {}")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	_, ok := r.Last()
	assert.False(t, ok)
	assert.False(t, r.Running())

	result, err := r.Execute(context.Background(), "console.log('recovered')")
	require.NoError(t, err)
	assert.Equal(t, []string{"recovered"}, result.Texts())
}

func TestDeferredErrorsAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	r := newTestRecorder(t, WithLogger(logging.Wrap(zap.New(core))), WithMetrics(metrics))

	result, err := r.Execute(context.Background(), "setTimeout(() => { throw new Error('late') }, 0); console.log('ok')")
	require.NoError(t, err)
	assert.False(t, result.Failed())
	assert.Equal(t, []string{"ok"}, result.Texts())

	warnings := logs.FilterMessage("Uncaught error in deferred callback").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "setTimeout", warnings[0].ContextMap()["source"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeferredErrors.WithLabelValues("setTimeout")))

	finished := logs.FilterMessage("Run finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, result.RunID, finished[0].ContextMap()["run_id"])
}

func TestCloseStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	config := sandbox.DefaultConfig()
	config.SettleWindow = testWindow
	r, err := NewWithConfig(config)
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), loopScript)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Execute(context.Background(), "console.log(1)")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSharedHostOutlivesRecorder(t *testing.T) {
	host, err := sandbox.NewHost(sandbox.DefaultConfig())
	require.NoError(t, err)
	defer host.Close()

	first := New(host, WithSettleWindow(testWindow))
	require.NoError(t, first.Close())

	second := New(host, WithSettleWindow(testWindow))
	assert.Equal(t, testWindow, second.SettleWindow())
	result, err := second.Execute(context.Background(), "console.log('still here')")
	require.NoError(t, err)
	assert.Equal(t, []string{"still here"}, result.Texts())
}
