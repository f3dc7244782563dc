package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"

	"github.com/GriffinCanCode/looptrace/internal/trace"
)

var errBodyEscapes = errors.New("source must be a function body: unbalanced closing brace")

// Runner compiles source text into an entry function whose parameters are the
// three substitute primitives and invokes it once on the host loop.
type Runner struct {
	host *Host
}

// NewRunner creates a runner bound to host.
func NewRunner(host *Host) *Runner {
	return &Runner{host: host}
}

// Run executes source against caps. It returns a *CompileOrRuntimeError when the
// source does not compile or throws synchronously; microtasks queued by the
// synchronous pass have drained by the time Run returns. Errors thrown later by
// deferred callbacks are not returned.
func (r *Runner) Run(ctx context.Context, source string, caps Capabilities) error {
	return r.host.Do(ctx, func(vm *goja.Runtime) error {
		// A previous run may have reassigned the global.
		if err := r.host.installClearTimeout(vm); err != nil {
			return err
		}
		entry, err := r.compile(vm, source)
		if err != nil {
			return err
		}

		prims := bind(vm, r.host, caps)
		if _, err := entry(goja.Undefined(), prims.args()...); err != nil {
			return &CompileOrRuntimeError{
				Phase:   trace.PhaseRuntime,
				Message: describeError(err),
				Err:     err,
			}
		}
		return nil
	})
}

func (r *Runner) compile(vm *goja.Runtime, source string) (goja.Callable, error) {
	if err := checkBody(source); err != nil {
		return nil, &CompileOrRuntimeError{Phase: trace.PhaseCompile, Message: err.Error(), Err: err}
	}

	args := make([]goja.Value, 0, len(Params)+1)
	for _, name := range Params {
		args = append(args, vm.ToValue(name))
	}
	args = append(args, vm.ToValue(source))

	fn, err := vm.New(r.host.real.function, args...)
	if err != nil {
		return nil, &CompileOrRuntimeError{Phase: trace.PhaseCompile, Message: describeError(err), Err: err}
	}
	entry, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, &CompileOrRuntimeError{Phase: trace.PhaseCompile, Message: "compiled source is not callable"}
	}
	return entry, nil
}

// checkBody parses source as the body of a function declaration. Anything that
// closes the body early shows up as extra top-level statements.
func checkBody(source string) error {
	wrapped := "function anonymous(" + strings.Join(Params, ", ") + ") {" + source + "\n}"
	prg, err := goja.Parse("script.js", wrapped)
	if err != nil {
		return err
	}
	if len(prg.Body) != 1 {
		return errBodyEscapes
	}
	if _, ok := prg.Body[0].(*ast.FunctionDeclaration); !ok {
		return errBodyEscapes
	}
	return nil
}
