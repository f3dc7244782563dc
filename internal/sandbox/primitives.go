package sandbox

import (
	"errors"
	"math"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

// primitives are the three substitute values passed to a run's entry function.
type primitives struct {
	console    *goja.Object
	promise    goja.Value
	setTimeout goja.Value
}

func (p primitives) args() []goja.Value {
	return []goja.Value{p.console, p.promise, p.setTimeout}
}

// binder builds substitutes that report to caps and delegate to the host.
type binder struct {
	vm   *goja.Runtime
	host *Host
	caps Capabilities
}

func bind(vm *goja.Runtime, host *Host, caps Capabilities) primitives {
	b := &binder{vm: vm, host: host, caps: caps}
	return primitives{
		console:    b.console(),
		promise:    b.promise(),
		setTimeout: b.vm.ToValue(b.setTimeout),
	}
}

func (b *binder) console() *goja.Object {
	console := b.vm.NewObject()
	console.Set("log", b.consoleFunc(trace.OutputLog))
	console.Set("error", b.consoleFunc(trace.OutputError))
	return console
}

func (b *binder) consoleFunc(kind trace.OutputKind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			if _, ok := arg.(*goja.Symbol); ok {
				panic(b.vm.NewTypeError("Cannot convert a Symbol value to a string"))
			}
			args[i] = joinArg(arg)
		}
		b.caps.Emit(kind, args)
		return goja.Undefined()
	}
}

// promise returns a constructor that builds real promises and instruments them.
// The executor runs synchronously inside the real constructor.
func (b *binder) promise() goja.Value {
	ctor := b.vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		p, err := b.vm.New(b.host.real.promise, call.Arguments...)
		if err != nil {
			b.rethrow(err)
		}
		return b.instrument(p)
	})

	obj := ctor.ToObject(b.vm)
	for _, name := range []string{"resolve", "reject", "all", "race", "allSettled", "any"} {
		if fn := b.host.real.promise.Get(name); fn != nil {
			obj.Set(name, fn)
		}
	}
	return ctor
}

// instrument gives p own then/catch methods that record the registration before
// handing it to Promise.prototype.then. Derived promises are instrumented as well.
func (b *binder) instrument(p *goja.Object) *goja.Object {
	p.Set("then", func(call goja.FunctionCall) goja.Value {
		b.caps.RegisterContinuation("then")
		return b.then(p, call.Argument(0), call.Argument(1))
	})
	p.Set("catch", func(call goja.FunctionCall) goja.Value {
		b.caps.RegisterContinuation("catch")
		return b.then(p, goja.Undefined(), call.Argument(0))
	})
	return p
}

func (b *binder) then(p *goja.Object, onFulfilled, onRejected goja.Value) goja.Value {
	derived, err := b.host.real.then(p, onFulfilled, onRejected)
	if err != nil {
		b.rethrow(err)
	}
	if obj, ok := derived.(*goja.Object); ok {
		return b.instrument(obj)
	}
	return derived
}

func (b *binder) setTimeout(call goja.FunctionCall) goja.Value {
	callback, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(b.vm.NewTypeError("setTimeout: callback must be a function"))
	}
	delay := timerDelay(call.Argument(1))
	var extra []goja.Value
	if len(call.Arguments) > 2 {
		extra = append(extra, call.Arguments[2:]...)
	}

	b.caps.RegisterTimer(delay)

	host := b.host
	timer := host.After(delay, func(*goja.Runtime) {
		if _, err := callback(goja.Undefined(), extra...); err != nil {
			host.report(&DeferredCallbackError{
				Source:  "setTimeout",
				Message: describeError(err),
				Err:     err,
			})
		}
	})
	return b.vm.ToValue(timer)
}

// maxDelayMS is the largest delay, in milliseconds, a time.Duration can hold.
const maxDelayMS = math.MaxInt64 / int64(time.Millisecond)

// timerDelay normalizes a setTimeout delay argument to whole milliseconds,
// clamped to [0, maxDelayMS].
func timerDelay(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	ms := v.ToInteger()
	switch {
	case ms < 0:
		ms = 0
	case ms > maxDelayMS:
		ms = maxDelayMS
	}
	return time.Duration(ms) * time.Millisecond
}

// rethrow raises err inside the VM. An interrupt keeps the runtime's interrupt
// flag set, so the caller's next instruction stops as well.
func (b *binder) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(b.vm.NewGoError(err))
}
