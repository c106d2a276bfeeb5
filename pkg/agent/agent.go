package agent

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
)

// ErrUnknownAgentType is returned by Resolve for an unregistered type.
var ErrUnknownAgentType = errors.New("unknown agent type")

// TaskPayload is the request sent to an agent for a single step. The
// Requirements map carries each dependency's recorded output under its
// mapped key.
type TaskPayload struct {
	TaskID             string                   `json:"task_id"` // "<workflowID>_<stepID>"
	Description        string                   `json:"description"`
	Domain             string                   `json:"domain"`
	Priority           string                   `json:"priority"`
	Context            PayloadContext           `json:"context"`
	Requirements       map[string]models.Output `json:"requirements"`
	SuccessCriteria    map[string]any           `json:"success_criteria,omitempty"`
	SchemaRequirements []string                 `json:"schema_requirements,omitempty"`
}

// PayloadContext frames the step within its workflow.
type PayloadContext struct {
	WorkflowID      string                 `json:"workflow_id"`
	WorkflowName    string                 `json:"workflow_name"`
	BusinessContext models.BusinessContext `json:"business_context"`
	StepPosition    string                 `json:"step_position"` // "i/N" in declaration order
}

// Agent executes one task on behalf of a step. Implementations must honor
// ctx cancellation; the invoker enforces the step timeout through it.
type Agent interface {
	Invoke(ctx context.Context, payload TaskPayload) (models.Output, error)
}

// Registry maps agent-type identifiers to agents. It is populated during
// startup and read-only while workflows execute.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under the given type identifier.
func (r *Registry) Register(agentType string, a Agent) error {
	if agentType == "" {
		return errors.New("empty agent type")
	}
	if a == nil {
		return errors.Errorf("nil agent for type '%s'", agentType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agentType]; exists {
		return errors.Errorf("agent type '%s' already registered", agentType)
	}
	r.agents[agentType] = a
	return nil
}

// Resolve returns the agent registered for the given type.
func (r *Registry) Resolve(agentType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentType]
	if !ok {
		return nil, errors.Wrap(ErrUnknownAgentType, agentType)
	}
	return a, nil
}

// Known reports whether the type resolves without returning the agent.
func (r *Registry) Known(agentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentType]
	return ok
}

// Types returns the registered agent-type identifiers.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	return types
}
