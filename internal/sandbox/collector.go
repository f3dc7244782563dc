package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

// Collector waits out the settling window and snapshots a run.
//
// The window is a fixed heuristic: work scheduled to fire after it elapses is
// missing from the snapshot even though it still runs against the old context.
type Collector struct {
	host   *Host
	window time.Duration
}

// NewCollector creates a collector. A non-positive window uses DefaultSettleWindow.
func NewCollector(host *Host, window time.Duration) *Collector {
	if window <= 0 {
		window = DefaultSettleWindow
	}
	return &Collector{host: host, window: window}
}

// Window returns the settling window.
func (c *Collector) Window() time.Duration {
	return c.window
}

// Collect must be called after the synchronous pass has returned. The wait is a
// timer on the host loop, so the snapshot is taken on the loop between
// callbacks. If ctx ends first, the partial snapshot is returned with ctx's error.
func (c *Collector) Collect(ctx context.Context, ec *ExecutionContext) (trace.Snapshot, error) {
	if c.host.closed.Load() {
		return ec.Snapshot(), ErrHostClosed
	}

	settled := make(chan trace.Snapshot, 1)
	timer := c.host.After(c.window, func(*goja.Runtime) {
		settled <- ec.Snapshot()
	})

	select {
	case snap := <-settled:
		return snap, nil
	case <-ctx.Done():
		c.host.Cancel(timer)
		return ec.Snapshot(), ctx.Err()
	case <-c.host.done:
		return ec.Snapshot(), ErrHostClosed
	}
}
