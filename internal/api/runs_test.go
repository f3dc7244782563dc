package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/looptrace/internal/recorder"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
	"github.com/GriffinCanCode/looptrace/internal/store"
)

func newTestRuns(t *testing.T, timeout time.Duration) *Runs {
	t.Helper()
	config := sandbox.DefaultConfig()
	config.SettleWindow = 20 * time.Millisecond
	rec, err := recorder.NewWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	return NewRuns(rec, store.NewSources(store.NewMemoryStore(), nil), timeout)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{recorder.ErrRunInProgress, http.StatusConflict},
		{recorder.ErrClosed, http.StatusServiceUnavailable},
		{ErrSourceTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("run run_1: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("run run_1: %w", context.Canceled), 499},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestCheckSource(t *testing.T) {
	assert.NoError(t, CheckSource(""))
	assert.NoError(t, CheckSource(strings.Repeat("x", MaxSourceSize)))
	assert.ErrorIs(t, CheckSource(strings.Repeat("x", MaxSourceSize+1)), ErrSourceTooLarge)
}

func TestNewRunsDefaultTimeout(t *testing.T) {
	runs := newTestRuns(t, 0)
	assert.Equal(t, DefaultRunTimeout, runs.Timeout)
}

func TestRunOptional(t *testing.T) {
	runs := newTestRuns(t, time.Second)
	ctx := context.Background()

	saved, err := runs.RunOptional(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, saved.Outputs, 7)

	empty := ""
	result, err := runs.RunOptional(ctx, &empty)
	require.NoError(t, err)
	assert.Empty(t, result.Outputs)
	assert.Empty(t, result.SyncTrace)

	require.NoError(t, runs.Sources.Save(ctx, "console.log('mine')"))
	mine, err := runs.RunOptional(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, mine.Texts())
}

func TestRunTimeout(t *testing.T) {
	runs := newTestRuns(t, 50*time.Millisecond)

	_, err := runs.Run(context.Background(), "while (true) {}")
	require.Error(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(err))

	// The recorder is usable again once the interrupted run has unwound.
	assert.Eventually(t, func() bool {
		_, err := runs.Run(context.Background(), "console.log(1)")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRunTooLarge(t *testing.T) {
	runs := newTestRuns(t, time.Second)
	_, err := runs.Run(context.Background(), strings.Repeat(" ", MaxSourceSize+1))
	assert.ErrorIs(t, err, ErrSourceTooLarge)
}
