package models

// WorkflowDefinition is the declarative input document for a workflow.
// It is accepted as YAML or JSON and validated structurally before any
// execution begins.
type WorkflowDefinition struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description" yaml:"description"`
	Domain          string           `json:"domain,omitempty" yaml:"domain"`
	Priority        string           `json:"priority,omitempty" yaml:"priority"`
	Steps           []StepDefinition `json:"steps" yaml:"steps"`
	SuccessCriteria SuccessCriteria  `json:"success_criteria,omitempty" yaml:"success_criteria"`
	BusinessContext *BusinessContext `json:"business_context,omitempty" yaml:"business_context"`
}

// StepDefinition declares a single step. ID, AgentType and Description are
// required; everything else defaults.
type StepDefinition struct {
	ID              string            `json:"id" yaml:"id"`
	AgentType       string            `json:"agent_type" yaml:"agent_type"`
	Description     string            `json:"description" yaml:"description"`
	Dependencies    []string          `json:"dependencies,omitempty" yaml:"dependencies"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
	RetryBudget     int               `json:"retry_budget,omitempty" yaml:"retry_budget"`
	OutputMapping   map[string]string `json:"output_mapping,omitempty" yaml:"output_mapping"`
	RequiredFields  []string          `json:"required_fields,omitempty" yaml:"required_fields"`
	SuccessCriteria map[string]any    `json:"success_criteria,omitempty" yaml:"success_criteria"`
}
