package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
)

// mockStore implements Store with in-memory storage. Step status and log
// writes arrive from concurrent step goroutines, so access is mutex-guarded.
type mockStore struct {
	mu           sync.Mutex
	workflows    []models.Workflow
	steps        []models.Step
	dependencies []models.Dependency
	outputs      map[string]map[string]models.Output
	logs         []models.ExecutionLog
	nextLogID    int64
}

// NewMockStore returns an empty in-memory store for tests and examples.
func NewMockStore() Store {
	return &mockStore{outputs: make(map[string]map[string]models.Output)}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) SaveWorkflow(wf models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.workflows {
		if existing.ID == wf.ID {
			return errors.Errorf("workflow %s already exists", wf.ID)
		}
	}
	m.workflows = append(m.workflows, wf)
	return nil
}

func (m *mockStore) GetWorkflow(id string) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ID == id {
			wf.Steps = m.stepsOf(id)
			wf.Outputs = m.outputsOf(id)
			return wf, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Workflow, len(m.workflows))
	copy(out, m.workflows)
	return out, nil
}

func (m *mockStore) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.workflows {
		if m.workflows[i].ID == id {
			m.workflows[i].Status = status
			m.workflows[i].UpdatedAt = now
			switch status {
			case models.RunningWorkflowStatus:
				if m.workflows[i].StartedAt == nil {
					m.workflows[i].StartedAt = &now
				}
			case models.CompletedWorkflowStatus, models.FailedWorkflowStatus:
				if m.workflows[i].CompletedAt == nil {
					m.workflows[i].CompletedAt = &now
				}
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateCurrentStep(workflowID, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.workflows {
		if m.workflows[i].ID == workflowID {
			m.workflows[i].CurrentStep = stepID
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveStep(s models.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		if m.steps[i].ID == s.ID && m.steps[i].WorkflowID == s.WorkflowID {
			m.steps[i] = s
			return nil
		}
	}
	m.steps = append(m.steps, s)
	return nil
}

func (m *mockStore) GetStep(id, workflowID string) (models.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.ID == id && s.WorkflowID == workflowID {
			return s, nil
		}
	}
	return models.Step{}, ErrNotFound
}

func (m *mockStore) UpdateStepStatus(id, workflowID string, status models.StepStatus, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.steps {
		if m.steps[i].ID == id && m.steps[i].WorkflowID == workflowID {
			m.steps[i].Status = status
			m.steps[i].ErrorMsg = errorMsg
			switch status {
			case models.RunningStepStatus:
				if m.steps[i].StartedAt == nil {
					m.steps[i].StartedAt = &now
				}
			case models.CompletedStepStatus, models.FailedStepStatus:
				m.steps[i].FinishedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) UpdateStepAttempts(id, workflowID string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.steps {
		if m.steps[i].ID == id && m.steps[i].WorkflowID == workflowID {
			m.steps[i].Attempts = attempts
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveDependency(d models.Dependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies = append(m.dependencies, d)
	return nil
}

func (m *mockStore) GetDependencies(workflowID string) ([]models.Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deps []models.Dependency
	for _, d := range m.dependencies {
		if d.WorkflowID == workflowID {
			deps = append(deps, d)
		}
	}
	return deps, nil
}

func (m *mockStore) SaveOutput(workflowID, stepID string, output models.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[workflowID]; !ok {
		m.outputs[workflowID] = make(map[string]models.Output)
	}
	m.outputs[workflowID][stepID] = output
	return nil
}

func (m *mockStore) GetOutputs(workflowID string) (map[string]models.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputsOf(workflowID), nil
}

func (m *mockStore) AppendExecutionLog(rec models.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	rec.ID = m.nextLogID
	if rec.LoggedAt.IsZero() {
		rec.LoggedAt = time.Now()
	}
	m.logs = append(m.logs, rec)
	return nil
}

func (m *mockStore) GetExecutionLog(workflowID string) ([]models.ExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recs []models.ExecutionLog
	for _, r := range m.logs {
		if r.WorkflowID == workflowID {
			recs = append(recs, r)
		}
	}
	return recs, nil
}

// callers hold m.mu
func (m *mockStore) stepsOf(workflowID string) []models.Step {
	var steps []models.Step
	for _, s := range m.steps {
		if s.WorkflowID == workflowID {
			steps = append(steps, s)
		}
	}
	return steps
}

func (m *mockStore) outputsOf(workflowID string) map[string]models.Output {
	out := make(map[string]models.Output, len(m.outputs[workflowID]))
	for k, v := range m.outputs[workflowID] {
		out[k] = v
	}
	return out
}
