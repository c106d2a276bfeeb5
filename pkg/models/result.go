package models

import "fmt"

// RawOutputKey wraps agent output that could not be parsed as a field
// mapping. Such outputs are retained but count as degenerate for the
// schema-compliance criterion.
const RawOutputKey = "raw_output"

// Output is an accepted step result: a mapping of named fields.
type Output map[string]any

// Structured reports whether the output is a well-formed field mapping
// rather than a raw-output wrapper around unparseable agent text.
func (o Output) Structured() bool {
	if o == nil {
		return false
	}
	_, raw := o[RawOutputKey]
	return !raw
}

// HasFields reports whether every named field is present. Validation is
// presence-only; field types are not inspected.
func (o Output) HasFields(fields []string) bool {
	for _, f := range fields {
		if _, ok := o[f]; !ok {
			return false
		}
	}
	return true
}

// FailureKind classifies a single failed invocation attempt.
type FailureKind string

const (
	TimeoutFailure    FailureKind = "timeout"
	InvocationFailure FailureKind = "invocation_error"
	SchemaRejection   FailureKind = "schema_rejection"
)

// StepFailure is a typed attempt failure. Transient failures are retried by
// the invoker; a failure returned after the retry budget is exhausted is
// terminal and aborts the workflow.
type StepFailure struct {
	StepID   string
	Kind     FailureKind
	Attempts int
	Err      error
}

func (f *StepFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("step %s: %s after %d attempt(s): %v", f.StepID, f.Kind, f.Attempts, f.Err)
	}
	return fmt.Sprintf("step %s: %s after %d attempt(s)", f.StepID, f.Kind, f.Attempts)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// StepResult is the transient outcome of one step: either an accepted
// output or a typed failure, never both.
type StepResult struct {
	StepID  string
	Output  Output
	Failure *StepFailure
}

// Succeeded reports whether the step settled with an accepted output.
func (r StepResult) Succeeded() bool {
	return r.Failure == nil
}

// ExecutionResult is the envelope every caller receives, regardless of how
// execution ended.
type ExecutionResult struct {
	RunID                    string            `json:"run_id"`
	WorkflowID               string            `json:"workflow_id"`
	Status                   WorkflowStatus    `json:"status"`
	ExecutionDurationSeconds int               `json:"execution_duration_seconds"`
	Outputs                  map[string]Output `json:"outputs"`
	Success                  bool              `json:"success"`
	Reason                   string            `json:"reason,omitempty"` // Abort or criteria-failure detail
}

// ValidationError marks a workflow definition rejected before execution.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid workflow definition: " + e.Reason
}
