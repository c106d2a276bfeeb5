package storage

import (
	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations for Agentflow. Begin returns a
// transactional view of the same interface; Commit/Rollback only apply to
// such views.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) error
	GetWorkflow(id string) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)
	UpdateWorkflowStatus(id string, status models.WorkflowStatus) error
	UpdateCurrentStep(workflowID, stepID string) error

	// Step operations
	SaveStep(s models.Step) error
	GetStep(id, workflowID string) (models.Step, error)
	UpdateStepStatus(id, workflowID string, status models.StepStatus, errorMsg string) error
	UpdateStepAttempts(id, workflowID string, attempts int) error

	// Dependency operations
	SaveDependency(d models.Dependency) error
	GetDependencies(workflowID string) ([]models.Dependency, error)

	// Output operations; a step's output is written at most once per run.
	SaveOutput(workflowID, stepID string, output models.Output) error
	GetOutputs(workflowID string) (map[string]models.Output, error)

	// Audit log, append-only.
	AppendExecutionLog(rec models.ExecutionLog) error
	GetExecutionLog(workflowID string) ([]models.ExecutionLog, error)
}
