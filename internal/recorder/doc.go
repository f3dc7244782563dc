// Package recorder runs source text and publishes its traces.
//
// Execute is the whole lifecycle of one run: a fresh sandbox.ExecutionContext,
// the synchronous pass on the host loop, the settling window, and a
// trace.Result that becomes the last result. Only one run may be in flight;
// a second caller gets ErrRunInProgress instead of waiting. Reset forgets the
// last result without touching a run in flight.
package recorder
