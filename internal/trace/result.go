package trace

import "time"

// Result is the outcome of one run. It is never modified after construction.
type Result struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	SyncTrace  []Event       `json:"sync_trace" yaml:"sync_trace"`
	MicroTrace []Event       `json:"micro_trace" yaml:"micro_trace"`
	MacroTrace []Event       `json:"macro_trace" yaml:"macro_trace"`
	Outputs    []Output      `json:"outputs" yaml:"outputs"`
	Failure    *Failure      `json:"failure,omitempty" yaml:"failure,omitempty"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Counts summarizes the size of each list in a Result.
type Counts struct {
	Sync    int `json:"sync"`
	Micro   int `json:"micro"`
	Macro   int `json:"macro"`
	Outputs int `json:"outputs"`
}

// NewResult copies snap into a Result. The slices are never nil so that an
// empty queue serializes as [] rather than null.
func NewResult(runID string, snap Snapshot, failure *Failure, startedAt time.Time, duration time.Duration) *Result {
	return &Result{
		RunID:      runID,
		SyncTrace:  cloneEvents(snap.Sync),
		MicroTrace: cloneEvents(snap.Micro),
		MacroTrace: cloneEvents(snap.Macro),
		Outputs:    cloneOutputs(snap.Outputs),
		Failure:    failure,
		StartedAt:  startedAt,
		Duration:   duration,
	}
}

// Failed reports whether the run raised synchronously.
func (r *Result) Failed() bool {
	return r.Failure != nil
}

// Counts returns the number of entries in each list.
func (r *Result) Counts() Counts {
	return Counts{
		Sync:    len(r.SyncTrace),
		Micro:   len(r.MicroTrace),
		Macro:   len(r.MacroTrace),
		Outputs: len(r.Outputs),
	}
}

// Console returns what the console panel shows: the captured outputs followed by
// a single error entry when the run failed.
func (r *Result) Console() []Output {
	lines := cloneOutputs(r.Outputs)
	if r.Failure == nil {
		return lines
	}

	ts := r.StartedAt.Add(r.Duration)
	if n := len(lines); n > 0 && lines[n-1].Timestamp.After(ts) {
		ts = lines[n-1].Timestamp
	}
	return append(lines, Output{
		Kind:      OutputError,
		Text:      r.Failure.Message,
		Timestamp: ts,
	})
}

// Texts returns the text of every captured output, in order.
func (r *Result) Texts() []string {
	texts := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		texts[i] = o.Text
	}
	return texts
}

func cloneEvents(src []Event) []Event {
	dst := make([]Event, len(src))
	copy(dst, src)
	return dst
}

func cloneOutputs(src []Output) []Output {
	dst := make([]Output, len(src))
	copy(dst, src)
	return dst
}

// Report is the form handed to presentation: the result with its rendered
// console and list sizes alongside.
type Report struct {
	Result     `json:",inline" yaml:",inline"`
	Console    []Output `json:"console" yaml:"console"`
	Counts     Counts   `json:"counts" yaml:"counts"`
	DurationMS int64    `json:"duration_ms" yaml:"duration_ms"`
}

// Report builds the presentation form of r.
func (r *Result) Report() Report {
	return Report{
		Result:     *r,
		Console:    r.Console(),
		Counts:     r.Counts(),
		DurationMS: r.Duration.Milliseconds(),
	}
}
