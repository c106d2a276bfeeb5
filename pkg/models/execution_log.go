package models

import "time"

// ExecutionLog tracks the history of step attempts for auditing. Records are
// append-only and never consumed by the executor itself.
type ExecutionLog struct {
	ID         int64     `json:"id" db:"id"`                     // Auto-incremented log ID
	RunID      string    `json:"run_id" db:"run_id"`             // Execution run this record belongs to
	WorkflowID string    `json:"workflow_id" db:"workflow_id"`   // Parent workflow
	StepID     string    `json:"step_id,omitempty" db:"step_id"` // Empty for workflow-level events
	Attempt    int       `json:"attempt" db:"attempt"`           // 1-based attempt number, 0 for workflow events
	Event      string    `json:"event" db:"event"`               // e.g. "attempt_started", "schema_rejected", "workflow_failed"
	Message    string    `json:"message,omitempty" db:"message"` // Details (error text or success note)
	LoggedAt   time.Time `json:"logged_at" db:"logged_at"`
}
