package sandbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

var (
	ErrHostClosed = errors.New("sandbox host is closed")
)

// DefaultSettleWindow is how long the collector lets deferred work fire after the
// synchronous pass before it snapshots a run.
const DefaultSettleWindow = 100 * time.Millisecond

// Params are the names user code sees for the three substitute primitives, in the
// order they are passed to the compiled entry function.
var Params = []string{"console", "Promise", "setTimeout"}

// Config defines sandbox configuration
type Config struct {
	MaxCallStackSize int                          // goja call stack limit, 0 keeps the engine default
	SettleWindow     time.Duration                // Collection delay after the synchronous pass
	OnDeferredError  func(*DeferredCallbackError) // Host's unhandled-error channel
	Clock            func() time.Time             // Output timestamps, time.Now when nil
}

// DefaultConfig returns the configuration used by the server and CLI.
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		SettleWindow:     DefaultSettleWindow,
		Clock:            time.Now,
	}
}

// Capabilities is the set of scheduling observations a run can make. The
// substitute primitives call it synchronously at the moment user code invokes them.
type Capabilities interface {
	// Emit records one console call.
	Emit(kind trace.OutputKind, args []string)
	// RegisterContinuation records a then/catch registration.
	RegisterContinuation(method string)
	// RegisterTimer records a setTimeout registration.
	RegisterTimer(delay time.Duration)
}

// CompileOrRuntimeError is returned when source text cannot be compiled or throws
// during its top-level execution.
type CompileOrRuntimeError struct {
	Phase   trace.Phase
	Message string
	Err     error
}

func (e *CompileOrRuntimeError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Phase, e.Message)
}

func (e *CompileOrRuntimeError) Unwrap() error {
	return e.Err
}

// Failure converts the error into the value carried by a trace.Result.
func (e *CompileOrRuntimeError) Failure() *trace.Failure {
	return &trace.Failure{Phase: e.Phase, Message: e.Message}
}

// DeferredCallbackError is an exception raised after the synchronous pass, inside
// a timer callback or a rejected promise nobody handled. It never reaches a
// Result; the host reports it through Config.OnDeferredError.
type DeferredCallbackError struct {
	Source  string // "setTimeout" or "promise"
	Message string
	Err     error
}

func (e *DeferredCallbackError) Error() string {
	return fmt.Sprintf("uncaught error in %s callback: %s", e.Source, e.Message)
}

func (e *DeferredCallbackError) Unwrap() error {
	return e.Err
}
