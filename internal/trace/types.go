package trace

import "time"

// Category identifies the queue an Event belongs to.
type Category string

const (
	CategorySync  Category = "sync"
	CategoryMicro Category = "micro"
	CategoryMacro Category = "macro"
)

// Valid reports whether c is one of the three known queues.
func (c Category) Valid() bool {
	switch c {
	case CategorySync, CategoryMicro, CategoryMacro:
		return true
	}
	return false
}

// Event is one classified occurrence.
type Event struct {
	Category    Category `json:"category" yaml:"category"`
	Description string   `json:"description" yaml:"description"`
	Output      *string  `json:"output,omitempty" yaml:"output,omitempty"` // sync output calls only
}

// OutputKind is the console channel an Output was written to.
type OutputKind string

const (
	OutputLog   OutputKind = "log"
	OutputError OutputKind = "error"
)

// Output is one console line.
type Output struct {
	Kind      OutputKind `json:"kind" yaml:"kind"`
	Text      string     `json:"text" yaml:"text"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// Phase tells whether a failure happened while compiling or while running.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRuntime Phase = "runtime"
)

// Failure describes a synchronous failure of a run.
type Failure struct {
	Phase   Phase  `json:"phase" yaml:"phase"`
	Message string `json:"message" yaml:"message"`
}

// Snapshot is a point-in-time copy of a run's four append-only lists.
type Snapshot struct {
	Sync    []Event
	Micro   []Event
	Macro   []Event
	Outputs []Output
}
