package models

import "time"

type WorkflowStatus string

const (
	PendingWorkflowStatus   WorkflowStatus = "PENDING"
	RunningWorkflowStatus   WorkflowStatus = "RUNNING"
	CompletedWorkflowStatus WorkflowStatus = "COMPLETED"
	FailedWorkflowStatus    WorkflowStatus = "FAILED"
)

type Domain string

const (
	MarketingDomain  Domain = "marketing"
	SalesDomain      Domain = "sales"
	OperationsDomain Domain = "operations"
)

type Priority string

const (
	LowPriority      Priority = "low"
	MediumPriority   Priority = "medium"
	HighPriority     Priority = "high"
	CriticalPriority Priority = "critical"
)

// SuccessCriteria is the rule set evaluated over the collected step outputs
// once every step has settled. A zero value for a rule disables it.
type SuccessCriteria struct {
	MinSuccessfulSteps int      `json:"min_successful_steps,omitempty" yaml:"min_successful_steps"` // count of recorded outputs must reach this
	RequiredOutputs    []string `json:"required_outputs,omitempty" yaml:"required_outputs"`         // step IDs that must appear in outputs
	SchemaCompliance   float64  `json:"schema_compliance,omitempty" yaml:"schema_compliance"`       // min fraction of structured outputs, 0..1
}

// BusinessContext is opaque to scheduling; it is embedded in every task
// payload so all agents share the same framing of the business.
type BusinessContext struct {
	CompanyName      string            `json:"company_name" yaml:"company_name"`
	Industry         string            `json:"industry" yaml:"industry"`
	TargetAudience   string            `json:"target_audience" yaml:"target_audience"`
	BrandVoice       string            `json:"brand_voice" yaml:"brand_voice"`
	PrimaryLanguages []string          `json:"primary_languages" yaml:"primary_languages"`
	KeyMetrics       map[string]string `json:"key_metrics" yaml:"key_metrics"`
}

// DefaultBusinessContext returns the context applied when a definition omits one.
func DefaultBusinessContext() BusinessContext {
	return BusinessContext{
		CompanyName:      "Schemantics",
		Industry:         "Software Development Tools",
		TargetAudience:   "Software Developers",
		BrandVoice:       "Technical, Helpful, Innovative",
		PrimaryLanguages: []string{"Julia", "Rust", "TypeScript", "Elixir"},
		KeyMetrics: map[string]string{
			"user_acquisition": "monthly_signups",
			"engagement":       "daily_active_users",
			"retention":        "monthly_retention_rate",
			"revenue":          "monthly_recurring_revenue",
		},
	}
}

// Workflow represents a set of steps, their dependency graph and the criteria
// deciding the terminal status. The executor exclusively owns Status,
// CurrentStep, Outputs and the transition timestamps; no other component
// writes them.
type Workflow struct {
	ID              string            `json:"id" db:"id"`                   // Unique identifier from the definition
	Name            string            `json:"name" db:"name"`               // Descriptive name (e.g., "Customer Acquisition")
	Description     string            `json:"description" db:"description"` // Free text, opaque to scheduling
	Domain          Domain            `json:"domain" db:"domain"`
	Priority        Priority          `json:"priority" db:"priority"`
	Status          WorkflowStatus    `json:"status" db:"status"`
	Steps           []Step            `json:"steps,omitempty"` // Populated at runtime
	SuccessCriteria SuccessCriteria   `json:"success_criteria"`
	BusinessContext BusinessContext   `json:"business_context"`
	CurrentStep     string            `json:"current_step,omitempty" db:"current_step"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty" db:"started_at"`     // Set on first dispatch
	CompletedAt     *time.Time        `json:"completed_at,omitempty" db:"completed_at"` // Set on terminal transition
	Outputs         map[string]Output `json:"outputs,omitempty"`                        // Accepted result per step ID
}

// StepByID returns the step with the given ID, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}
