package sandbox

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

// ExecutionContext holds the append-only lists of one run. A fresh context is
// created for every run and never reused; the substitute primitives bound to it
// are the only writers.
type ExecutionContext struct {
	mu      sync.Mutex
	sync    []trace.Event
	micro   []trace.Event
	macro   []trace.Event
	outputs []trace.Output

	clock func() time.Time
	last  time.Time
}

var _ Capabilities = (*ExecutionContext)(nil)

// NewContext creates an empty context. A nil clock uses time.Now.
func NewContext(clock func() time.Time) *ExecutionContext {
	if clock == nil {
		clock = time.Now
	}
	return &ExecutionContext{clock: clock}
}

// Emit records a console call as both an Output and a sync Event.
func (c *ExecutionContext) Emit(kind trace.OutputKind, args []string) {
	text := strings.Join(args, " ")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs = append(c.outputs, trace.Output{
		Kind:      kind,
		Text:      text,
		Timestamp: c.now(),
	})
	c.sync = append(c.sync, trace.Event{
		Category:    trace.CategorySync,
		Description: fmt.Sprintf("console.%s(%s)", kind, strings.Join(args, ", ")),
		Output:      &text,
	})
}

// RegisterContinuation records that a then/catch callback was enqueued.
func (c *ExecutionContext) RegisterContinuation(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.micro = append(c.micro, trace.Event{
		Category:    trace.CategoryMicro,
		Description: fmt.Sprintf("Promise.%s() - callback enqueued", method),
	})
}

// RegisterTimer records that a setTimeout callback was enqueued.
func (c *ExecutionContext) RegisterTimer(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.macro = append(c.macro, trace.Event{
		Category:    trace.CategoryMacro,
		Description: fmt.Sprintf("setTimeout(..., %d) - callback enqueued", delay.Milliseconds()),
	})
}

// Snapshot copies the four lists. The context stays valid and may keep growing.
func (c *ExecutionContext) Snapshot() trace.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return trace.Snapshot{
		Sync:    append([]trace.Event(nil), c.sync...),
		Micro:   append([]trace.Event(nil), c.micro...),
		Macro:   append([]trace.Event(nil), c.macro...),
		Outputs: append([]trace.Output(nil), c.outputs...),
	}
}

// now never goes backwards within a run.
func (c *ExecutionContext) now() time.Time {
	t := c.clock()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
