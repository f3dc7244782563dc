package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// intrinsics are the engine originals captured before any user code runs, so a
// script that reassigns a global cannot change how later runs are wired.
type intrinsics struct {
	promise  *goja.Object
	then     goja.Callable
	function *goja.Object
}

// Host owns the one goja runtime and the event loop that drives it. Every run
// rides on this loop: promise jobs drain after each entry into the VM and
// timers are posted back onto the loop when they fire.
type Host struct {
	loop   *eventloop.EventLoop
	config Config
	real   intrinsics
	clear  goja.Value // global clearTimeout, see installClearTimeout
	closed atomic.Bool
	done   chan struct{} // closed by Close

	// Promises rejected with no handler yet; loop goroutine only.
	rejected map[*goja.Promise]struct{}
	order    []*goja.Promise

	// Timers scheduled through After that have not fired.
	timersMu sync.Mutex
	timers   map[*eventloop.Timer]struct{}
}

// NewHost starts the event loop and captures the engine intrinsics.
func NewHost(config Config) (*Host, error) {
	h := &Host{
		loop:     eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		config:   config,
		done:     make(chan struct{}),
		rejected: make(map[*goja.Promise]struct{}),
		timers:   make(map[*eventloop.Timer]struct{}),
	}
	h.loop.Start()

	err := h.Do(context.Background(), func(vm *goja.Runtime) error {
		if config.MaxCallStackSize > 0 {
			vm.SetMaxCallStackSize(config.MaxCallStackSize)
		}
		vm.SetPromiseRejectionTracker(h.trackRejection)
		if err := h.captureIntrinsics(vm); err != nil {
			return err
		}
		h.clear = vm.ToValue(h.clearTimeout)
		return h.installClearTimeout(vm)
	})
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}
	return h, nil
}

func (h *Host) captureIntrinsics(vm *goja.Runtime) error {
	promise := vm.Get("Promise")
	if promise == nil {
		return errors.New("engine has no Promise")
	}
	h.real.promise = promise.ToObject(vm)

	proto := h.real.promise.Get("prototype")
	if proto == nil {
		return errors.New("engine has no Promise.prototype")
	}
	then, ok := goja.AssertFunction(proto.ToObject(vm).Get("then"))
	if !ok {
		return errors.New("Promise.prototype.then is not callable")
	}
	h.real.then = then

	function := vm.Get("Function")
	if function == nil {
		return errors.New("engine has no Function constructor")
	}
	h.real.function = function.ToObject(vm)
	return nil
}

// installClearTimeout replaces the loop's global clearTimeout. The loop's own
// version stops the underlying timer directly, which is nil until the loop has
// started it, so a handle cleared in the tick that created it would crash the
// loop goroutine. Cancel queues the clear behind the start instead.
func (h *Host) installClearTimeout(vm *goja.Runtime) error {
	return vm.Set("clearTimeout", h.clear)
}

func (h *Host) clearTimeout(call goja.FunctionCall) goja.Value {
	if timer, ok := call.Argument(0).Export().(*eventloop.Timer); ok && timer != nil {
		h.Cancel(timer)
	}
	return goja.Undefined()
}

// Do runs fn on the loop goroutine and waits for it. Cancelling ctx interrupts
// JavaScript that fn is executing.
func (h *Host) Do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if h.closed.Load() {
		return ErrHostClosed
	}

	done := make(chan error, 1)
	h.loop.RunOnLoop(func(vm *goja.Runtime) {
		stop := make(chan struct{})
		watcher := make(chan struct{})
		go func() {
			defer close(watcher)
			select {
			case <-ctx.Done():
				vm.Interrupt(ctx.Err())
			case <-stop:
			}
		}()

		err := fn(vm)

		close(stop)
		<-watcher
		vm.ClearInterrupt()
		h.flushRejections()
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHostClosed
	}
}

// After schedules fn on the loop once d has elapsed, using the loop's own timer
// facility. The returned handle is what the ambient clearTimeout accepts.
func (h *Host) After(d time.Duration, fn func(vm *goja.Runtime)) *eventloop.Timer {
	h.timersMu.Lock()
	defer h.timersMu.Unlock()

	var timer *eventloop.Timer
	timer = h.loop.SetTimeout(func(vm *goja.Runtime) {
		h.timersMu.Lock()
		delete(h.timers, timer)
		h.timersMu.Unlock()

		fn(vm)
		h.flushRejections()
	}, d)
	h.timers[timer] = struct{}{}
	return timer
}

// Cancel clears a timer returned by After if it has not fired yet.
func (h *Host) Cancel(timer *eventloop.Timer) {
	h.forget(timer)
	h.loop.ClearTimeout(timer)
}

func (h *Host) forget(timer *eventloop.Timer) {
	h.timersMu.Lock()
	delete(h.timers, timer)
	h.timersMu.Unlock()
}

// Close cancels pending timers and stops the loop. Callbacks that have not
// fired never run.
func (h *Host) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	h.timersMu.Lock()
	pending := h.timers
	h.timers = make(map[*eventloop.Timer]struct{})
	h.timersMu.Unlock()

	for timer := range pending {
		h.loop.ClearTimeout(timer)
	}
	close(h.done)
	h.loop.Stop()
	return nil
}

func (h *Host) report(err *DeferredCallbackError) {
	if h.config.OnDeferredError != nil {
		h.config.OnDeferredError(err)
	}
}

func (h *Host) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		if _, ok := h.rejected[p]; !ok {
			h.rejected[p] = struct{}{}
			h.order = append(h.order, p)
		}
	case goja.PromiseRejectionHandle:
		delete(h.rejected, p)
	}
}

// flushRejections reports promises still unhandled once a macrotask and the
// microtasks it queued have finished.
func (h *Host) flushRejections() {
	if len(h.order) == 0 {
		return
	}
	for _, p := range h.order {
		if _, ok := h.rejected[p]; !ok {
			continue
		}
		delete(h.rejected, p)
		h.report(&DeferredCallbackError{
			Source:  "promise",
			Message: "unhandled rejection: " + describeValue(p.Result()),
		})
	}
	h.order = h.order[:0]
}
