package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/agent"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

// Logger defines the logging interface for WorkflowService
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config carries the engine tunables. The zero value is usable; missing
// fields fall back to the defaults below.
type Config struct {
	MaxConcurrentSteps int             // Bound on concurrently running steps within a wave
	DefaultTimeout     time.Duration   // Per-attempt bound for steps without their own
	RetryDelays        []time.Duration // Backoff sequence, clamped to its last value
}

// DefaultConfig mirrors the engine's stock orchestration settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSteps: 5,
		DefaultTimeout:     models.DefaultStepTimeout,
		RetryDelays:        []time.Duration{30 * time.Second, 120 * time.Second, 300 * time.Second},
	}
}

// WorkflowService owns workflow creation, validation and execution. A
// workflow is validated structurally at creation time and rejected before
// any execution begins; execution itself is wave-based over the dependency
// graph, with all execution-state mutation confined to the executor.
type WorkflowService struct {
	store    storage.Store
	registry *agent.Registry
	cfg      Config
	logger   Logger
	mu       sync.Mutex
	running  map[string]struct{}
}

func NewWorkflowService(store storage.Store, registry *agent.Registry, cfg Config, logger Logger) *WorkflowService {
	if cfg.MaxConcurrentSteps <= 0 {
		cfg.MaxConcurrentSteps = DefaultConfig().MaxConcurrentSteps
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = DefaultConfig().RetryDelays
	}
	return &WorkflowService{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		running:  make(map[string]struct{}),
	}
}

// CreateWorkflow validates a definition and persists the resulting workflow
// in PENDING state. Structural problems (missing fields, unknown agent
// types, unresolvable or cyclic dependencies) reject the definition here,
// never at execution time.
func (s *WorkflowService) CreateWorkflow(def models.WorkflowDefinition) (wf models.Workflow, err error) {
	if verr := s.validateDefinition(def); verr != nil {
		return models.Workflow{}, verr
	}

	wf = buildWorkflow(def, s.cfg)

	txStore, err := s.store.Begin()
	if err != nil {
		return models.Workflow{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if err = txStore.SaveWorkflow(wf); err != nil {
		return models.Workflow{}, errors.Wrapf(err, "failed to save workflow %s", wf.ID)
	}
	for _, step := range wf.Steps {
		if err = txStore.SaveStep(step); err != nil {
			return models.Workflow{}, errors.Wrapf(err, "failed to save step %s", step.ID)
		}
		for _, dep := range step.Dependencies {
			if err = txStore.SaveDependency(models.Dependency{StepID: step.ID, DependsOn: dep, WorkflowID: wf.ID}); err != nil {
				return models.Workflow{}, errors.Wrapf(err, "failed to save dependency %s -> %s", step.ID, dep)
			}
		}
	}

	s.logger.Infof("Created workflow '%s' (%s) with %d step(s)", wf.Name, wf.ID, len(wf.Steps))
	return wf, nil
}

// ExecuteWorkflow runs a created workflow to a terminal status and returns
// the result envelope. Callers always receive a complete envelope with an
// explicit status; fatal scheduler conditions and unmet success criteria
// surface as Status=FAILED with a reason, not as an error.
func (s *WorkflowService) ExecuteWorkflow(ctx context.Context, workflowID string) (models.ExecutionResult, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return models.ExecutionResult{}, errors.Wrapf(err, "workflow %s not found", workflowID)
	}

	s.mu.Lock()
	if _, active := s.running[workflowID]; active {
		s.mu.Unlock()
		return models.ExecutionResult{}, errors.Errorf("workflow %s is already running", workflowID)
	}
	s.running[workflowID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, workflowID)
		s.mu.Unlock()
	}()

	runID := uuid.NewString()
	started := time.Now()

	if err := s.store.UpdateWorkflowStatus(workflowID, models.RunningWorkflowStatus); err != nil {
		return models.ExecutionResult{}, errors.Wrapf(err, "failed to set workflow %s to RUNNING", workflowID)
	}
	s.auditWorkflow(runID, workflowID, "workflow_started", "")

	inv := &invoker{
		registry:       s.registry,
		store:          s.store,
		logger:         s.logger,
		runID:          runID,
		workflowID:     workflowID,
		retryDelays:    s.cfg.RetryDelays,
		defaultTimeout: s.cfg.DefaultTimeout,
	}
	exec := &executor{
		wf:      &wf,
		invoker: inv,
		store:   s.store,
		logger:  s.logger,
		runID:   runID,
		workers: s.cfg.MaxConcurrentSteps,
	}

	outputs, runErr := exec.run(ctx)

	result := models.ExecutionResult{
		RunID:                    runID,
		WorkflowID:               workflowID,
		Outputs:                  outputs,
		ExecutionDurationSeconds: int(time.Since(started).Seconds()),
	}

	if runErr != nil {
		// Aborted runs bypass the evaluator: FAILED unconditionally, with
		// the abort reason attached.
		result.Status = models.FailedWorkflowStatus
		result.Reason = runErr.Error()
		s.auditWorkflow(runID, workflowID, "workflow_failed", runErr.Error())
	} else if ok, reason := EvaluateSuccessCriteria(wf.SuccessCriteria, outputs); !ok {
		result.Status = models.FailedWorkflowStatus
		result.Reason = "success_criteria_not_met: " + reason
		s.auditWorkflow(runID, workflowID, "workflow_failed", result.Reason)
	} else {
		result.Status = models.CompletedWorkflowStatus
		result.Success = true
		s.auditWorkflow(runID, workflowID, "workflow_completed", "")
	}

	if err := s.store.UpdateWorkflowStatus(workflowID, result.Status); err != nil {
		s.logger.Errorf("Failed to set workflow %s to %s: %v", workflowID, result.Status, err)
	}

	s.logger.Infof("Executed workflow %s: status=%s duration=%ds outputs=%d", workflowID, result.Status, result.ExecutionDurationSeconds, len(outputs))
	return result, nil
}

// GetWorkflow fetches a workflow with its steps and recorded outputs.
func (s *WorkflowService) GetWorkflow(workflowID string) (models.Workflow, error) {
	wf, err := s.store.GetWorkflow(workflowID)
	if err != nil {
		return models.Workflow{}, errors.Wrapf(err, "failed to get workflow %s", workflowID)
	}
	return wf, nil
}

func (s *WorkflowService) ListWorkflows() ([]models.Workflow, error) {
	return s.store.ListWorkflows()
}

// GetExecutionLog returns the persisted step timeline for a workflow.
func (s *WorkflowService) GetExecutionLog(workflowID string) ([]models.ExecutionLog, error) {
	return s.store.GetExecutionLog(workflowID)
}

func (s *WorkflowService) validateDefinition(def models.WorkflowDefinition) error {
	if def.ID == "" {
		return &models.ValidationError{Reason: "missing workflow id"}
	}
	if def.Name == "" {
		return &models.ValidationError{Reason: "missing workflow name"}
	}
	if def.Description == "" {
		return &models.ValidationError{Reason: "missing workflow description"}
	}

	stepIDs := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" || step.AgentType == "" || step.Description == "" {
			return &models.ValidationError{Reason: "each step requires id, agent_type and description"}
		}
		if _, dup := stepIDs[step.ID]; dup {
			return &models.ValidationError{Reason: fmt.Sprintf("duplicate step id '%s'", step.ID)}
		}
		stepIDs[step.ID] = struct{}{}
		if !s.registry.Known(step.AgentType) {
			return &models.ValidationError{Reason: fmt.Sprintf("unknown agent type '%s' for step '%s'", step.AgentType, step.ID)}
		}
	}

	for _, step := range def.Steps {
		for _, dep := range step.Dependencies {
			if dep == step.ID {
				return &models.ValidationError{Reason: fmt.Sprintf("step '%s' depends on itself", step.ID)}
			}
			if _, ok := stepIDs[dep]; !ok {
				return &models.ValidationError{Reason: fmt.Sprintf("step '%s' depends on unknown step '%s'", step.ID, dep)}
			}
		}
	}

	if cyclic := hasCycle(def.Steps); cyclic {
		return &models.ValidationError{Reason: "cycle detected in step dependencies"}
	}
	return nil
}

// hasCycle runs Kahn's algorithm over the declared dependency graph.
func hasCycle(steps []models.StepDefinition) bool {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		if _, ok := inDegree[step.ID]; !ok {
			inDegree[step.ID] = 0
		}
		for _, dep := range step.Dependencies {
			inDegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(steps)
}

// buildWorkflow converts a validated definition into the persisted model,
// applying engine defaults for omitted fields.
func buildWorkflow(def models.WorkflowDefinition, cfg Config) models.Workflow {
	now := time.Now()

	domain := models.Domain(def.Domain)
	if domain == "" {
		domain = models.OperationsDomain
	}
	priority := models.Priority(def.Priority)
	if priority == "" {
		priority = models.MediumPriority
	}
	bizCtx := models.DefaultBusinessContext()
	if def.BusinessContext != nil {
		bizCtx = *def.BusinessContext
	}

	steps := make([]models.Step, 0, len(def.Steps))
	for _, sd := range def.Steps {
		step := models.Step{
			ID:              sd.ID,
			WorkflowID:      def.ID,
			AgentType:       sd.AgentType,
			Description:     sd.Description,
			Dependencies:    sd.Dependencies,
			RetryBudget:     sd.RetryBudget,
			OutputMapping:   sd.OutputMapping,
			RequiredFields:  sd.RequiredFields,
			SuccessCriteria: sd.SuccessCriteria,
			Status:          models.PendingStepStatus,
		}
		if step.RetryBudget < 1 {
			step.RetryBudget = models.DefaultRetryBudget
		}
		if sd.TimeoutSeconds > 0 {
			timeout := time.Duration(sd.TimeoutSeconds) * time.Second
			step.Timeout = &timeout
		}
		steps = append(steps, step)
	}

	return models.Workflow{
		ID:              def.ID,
		Name:            def.Name,
		Description:     def.Description,
		Domain:          domain,
		Priority:        priority,
		Status:          models.PendingWorkflowStatus,
		Steps:           steps,
		SuccessCriteria: def.SuccessCriteria,
		BusinessContext: bizCtx,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *WorkflowService) auditWorkflow(runID, workflowID, event, message string) {
	rec := models.ExecutionLog{
		RunID:      runID,
		WorkflowID: workflowID,
		Event:      event,
		Message:    message,
		LoggedAt:   time.Now(),
	}
	if err := s.store.AppendExecutionLog(rec); err != nil {
		s.logger.Errorf("Failed to append execution log for workflow %s: %v", workflowID, err)
	}
}
