/*
Package sandbox runs user JavaScript under observed scheduling primitives.

# Overview

Source text is compiled into a function whose only injected names are
console, Promise and setTimeout. Each run gets a fresh ExecutionContext; the
substitutes bound to it record what the script schedules and then hand the
work to the real engine:

  - console.log / console.error: appended to the sync queue and the console
  - Promise: the executor runs synchronously; each then/catch registration is
    appended to the micro queue before the real Promise.prototype.then is called
  - setTimeout: appended to the macro queue, then scheduled on the event loop

# Architecture

 1. Host: one goja runtime driven by a goja_nodejs event loop, shared by all runs
 2. ExecutionContext: the per-run append-only lists (implements Capabilities)
 3. Runner: parses, compiles and invokes the entry function on the loop
 4. Collector: waits the settling window on the loop timer, then snapshots

The recorder never decides firing order. Promise jobs drain when control leaves
the VM, and timer callbacks are queued back onto the loop, so order is whatever
the engine does. Only the registration moments are recorded.

# Errors

A syntax error or a synchronous throw is a *CompileOrRuntimeError. Exceptions
from timer callbacks and unhandled rejections are *DeferredCallbackError values
delivered to Config.OnDeferredError and never reach a run's result.

# Usage Example

	host, err := sandbox.NewHost(sandbox.DefaultConfig())
	if err != nil {
		return err
	}
	defer host.Close()

	ec := sandbox.NewContext(nil)
	runErr := sandbox.NewRunner(host).Run(ctx, source, ec)
	snap, err := sandbox.NewCollector(host, 100*time.Millisecond).Collect(ctx, ec)
*/
package sandbox
