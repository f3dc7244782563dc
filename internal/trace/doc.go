// Package trace defines the records produced by a traced run.
//
// A run yields three ordered queues of Events and one console log:
//
//   - Sync:  work observed during the single top-level synchronous pass
//   - Micro: continuation registrations (Promise then/catch)
//   - Macro: timer registrations (setTimeout)
//
// Events and Outputs are created by the sandbox's substitute primitives and never
// mutated afterwards. A Result is an immutable copy handed to the presentation layer.
package trace
