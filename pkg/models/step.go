package models

import "time"

type StepStatus string

const (
	PendingStepStatus   StepStatus = "PENDING"
	RunningStepStatus   StepStatus = "RUNNING"
	FailedStepStatus    StepStatus = "FAILED"
	CompletedStepStatus StepStatus = "COMPLETED"
)

const (
	// DefaultRetryBudget is the number of attempts (including the first)
	// a step gets when the definition does not set one.
	DefaultRetryBudget = 3
	// DefaultStepTimeout bounds a single invocation attempt.
	DefaultStepTimeout = 30 * time.Minute
)

// Step is one unit of delegated work within a workflow. The scheduler never
// inspects Description; it is forwarded verbatim to the agent.
type Step struct {
	ID              string            `json:"id" db:"id"`                   // Unique within the workflow
	WorkflowID      string            `json:"workflow_id" db:"workflow_id"` // Foreign key to Workflow
	AgentType       string            `json:"agent_type" db:"agent_type"`   // Resolved through the agent registry
	Description     string            `json:"description" db:"description"`
	Dependencies    []string          `json:"dependencies,omitempty"`     // Step IDs that must complete first
	Timeout         *time.Duration    `json:"timeout,omitempty"`          // Per-attempt bound; nil means the engine default
	RetryBudget     int               `json:"retry_budget" db:"retries"`  // Max attempts including the first
	OutputMapping   map[string]string `json:"output_mapping,omitempty"`   // Renames a dependency's output key in the payload
	RequiredFields  []string          `json:"required_fields,omitempty"`  // Fields the output must contain to be accepted
	SuccessCriteria map[string]any    `json:"success_criteria,omitempty"` // Forwarded to the agent, not interpreted here

	// Execution tracking, owned by the executor.
	Status     StepStatus `json:"status" db:"status"`
	Attempts   int        `json:"attempts" db:"attempts"`
	ErrorMsg   string     `json:"error,omitempty" db:"error_msg"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// EffectiveTimeout returns the step timeout, falling back to def when the
// step does not carry one, and to DefaultStepTimeout when def is zero.
func (s *Step) EffectiveTimeout(def time.Duration) time.Duration {
	if s.Timeout != nil {
		return *s.Timeout
	}
	if def > 0 {
		return def
	}
	return DefaultStepTimeout
}

// EffectiveRetryBudget returns RetryBudget clamped to at least one attempt.
func (s *Step) EffectiveRetryBudget() int {
	if s.RetryBudget < 1 {
		return DefaultRetryBudget
	}
	return s.RetryBudget
}

// Dependency defines a relationship where one step depends on another.
type Dependency struct {
	StepID     string `json:"step_id" db:"step_id"`         // Step that depends on another
	DependsOn  string `json:"depends_on" db:"depends_on"`   // Prerequisite step
	WorkflowID string `json:"workflow_id" db:"workflow_id"` // Foreign key to Workflow
}
