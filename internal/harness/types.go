package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/todosync/internal/engine"
)

// TraceEvent is the recorded outcome of one flow step.
type TraceEvent struct {
	Seq int    `json:"seq"`
	Do  string `json:"do"`
	// ID is the identity the step produced or targeted, if any.
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// String renders the event as one golden line.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.Seq, e.Do)
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	} else {
		b.WriteString(" ok")
	}
	return b.String()
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace has one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the converged engine state.
	Final *engine.Snapshot `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records a step outcome.
func (r *Result) AddTrace(do, id string, err error) {
	ev := TraceEvent{Seq: len(r.Trace) + 1, Do: do, ID: id}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}
