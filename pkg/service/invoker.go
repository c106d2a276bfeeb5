package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/agent"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

// invoker executes exactly one step against its resolved agent, applying
// the per-attempt timeout, the retry budget and the schema acceptance gate.
// Transient failures never escape it; only terminal failures reach the
// executor.
type invoker struct {
	registry       *agent.Registry
	store          storage.Store
	logger         Logger
	runID          string
	workflowID     string
	retryDelays    []time.Duration
	defaultTimeout time.Duration
}

func (inv *invoker) invokeStep(ctx context.Context, wf *models.Workflow, step *models.Step, deps map[string]models.Output) models.StepResult {
	handle, err := inv.registry.Resolve(step.AgentType)
	if err != nil {
		// Unreachable for workflows that passed creation-time validation;
		// the registry is read-only during execution.
		return inv.fail(step, models.InvocationFailure, 0, err)
	}

	payload := inv.buildPayload(wf, step, deps)
	budget := step.EffectiveRetryBudget()
	timeout := step.EffectiveTimeout(inv.defaultTimeout)

	if err := inv.store.UpdateCurrentStep(wf.ID, step.ID); err != nil {
		inv.logger.Errorf("Failed to update current step for workflow %s: %v", wf.ID, err)
	}
	inv.updateStatus(step, models.RunningStepStatus, "")

	var lastKind models.FailureKind
	var lastErr error
	attemptsMade := 0
	for attempt := 1; attempt <= budget; attempt++ {
		attemptsMade = attempt
		inv.recordAttempt(step, attempt)

		output, kind, err := inv.attempt(ctx, handle, payload, timeout)
		if err == nil {
			inv.updateStatus(step, models.CompletedStepStatus, "")
			inv.audit(step.ID, attempt, "attempt_succeeded", "")
			return models.StepResult{StepID: step.ID, Output: output}
		}

		lastKind, lastErr = kind, err
		inv.logger.Infof("Step %s attempt %d/%d failed (%s): %v", step.ID, attempt, budget, kind, err)
		inv.audit(step.ID, attempt, "attempt_failed", fmt.Sprintf("%s: %v", kind, err))

		// The workflow is being cancelled; burning the remaining budget
		// would only delay the abort.
		if ctx.Err() != nil {
			break
		}
		if attempt < budget {
			if !inv.backoff(ctx, attempt) {
				break
			}
		}
	}
	return inv.fail(step, lastKind, attemptsMade, lastErr)
}

// attempt performs a single bounded invocation and classifies its failure.
func (inv *invoker) attempt(ctx context.Context, handle agent.Agent, payload agent.TaskPayload, timeout time.Duration) (models.Output, models.FailureKind, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := handle.Invoke(attemptCtx, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, models.TimeoutFailure, errors.Errorf("agent execution timed out after %s", timeout)
		}
		return nil, models.InvocationFailure, err
	}

	// Presence-only schema gate: a result missing a required field is
	// rejected and retried, not accepted.
	if !output.HasFields(payload.SchemaRequirements) {
		return nil, models.SchemaRejection, errors.Errorf("output does not contain required fields %v", payload.SchemaRequirements)
	}
	return output, "", nil
}

// backoff sleeps the configured delay for the given 1-based attempt number,
// clamped to the last delay once the sequence is exhausted. Returns false
// when the context was cancelled while waiting.
func (inv *invoker) backoff(ctx context.Context, attempt int) bool {
	if len(inv.retryDelays) == 0 {
		return true
	}
	idx := attempt - 1
	if idx >= len(inv.retryDelays) {
		idx = len(inv.retryDelays) - 1
	}
	select {
	case <-time.After(inv.retryDelays[idx]):
		return true
	case <-ctx.Done():
		return false
	}
}

// buildPayload assembles the task request: the step description, the
// workflow's shared business context, and each dependency's recorded output
// under its mapped key (default "<depID>_output").
func (inv *invoker) buildPayload(wf *models.Workflow, step *models.Step, deps map[string]models.Output) agent.TaskPayload {
	position := 0
	for i := range wf.Steps {
		if wf.Steps[i].ID == step.ID {
			position = i + 1
			break
		}
	}

	requirements := make(map[string]models.Output, len(step.Dependencies))
	for _, depID := range step.Dependencies {
		out, ok := deps[depID]
		if !ok {
			continue
		}
		key := depID + "_output"
		if mapped, hasMapping := step.OutputMapping[depID]; hasMapping {
			key = mapped
		}
		requirements[key] = out
	}

	return agent.TaskPayload{
		TaskID:      fmt.Sprintf("%s_%s", wf.ID, step.ID),
		Description: step.Description,
		Domain:      string(wf.Domain),
		Priority:    string(wf.Priority),
		Context: agent.PayloadContext{
			WorkflowID:      wf.ID,
			WorkflowName:    wf.Name,
			BusinessContext: wf.BusinessContext,
			StepPosition:    fmt.Sprintf("%d/%d", position, len(wf.Steps)),
		},
		Requirements:       requirements,
		SuccessCriteria:    step.SuccessCriteria,
		SchemaRequirements: step.RequiredFields,
	}
}

func (inv *invoker) fail(step *models.Step, kind models.FailureKind, attempts int, err error) models.StepResult {
	if kind == "" {
		kind = models.InvocationFailure
	}
	failure := &models.StepFailure{StepID: step.ID, Kind: kind, Attempts: attempts, Err: err}
	inv.updateStatus(step, models.FailedStepStatus, failure.Error())
	inv.audit(step.ID, attempts, "step_failed", failure.Error())
	return models.StepResult{StepID: step.ID, Failure: failure}
}

func (inv *invoker) recordAttempt(step *models.Step, attempt int) {
	if err := inv.store.UpdateStepAttempts(step.ID, step.WorkflowID, attempt); err != nil {
		inv.logger.Errorf("Failed to update attempts for step %s: %v", step.ID, err)
	}
	inv.audit(step.ID, attempt, "attempt_started", "")
}

func (inv *invoker) updateStatus(step *models.Step, status models.StepStatus, errMsg string) {
	if err := inv.store.UpdateStepStatus(step.ID, step.WorkflowID, status, errMsg); err != nil {
		inv.logger.Errorf("Failed to update step %s status to %s: %v", step.ID, status, err)
	}
}

// audit appends an attempt record; failures are logged and swallowed so
// auditing never blocks the invocation path.
func (inv *invoker) audit(stepID string, attempt int, event, message string) {
	rec := models.ExecutionLog{
		RunID:      inv.runID,
		WorkflowID: inv.workflowID,
		StepID:     stepID,
		Attempt:    attempt,
		Event:      event,
		Message:    message,
		LoggedAt:   time.Now(),
	}
	if err := inv.store.AppendExecutionLog(rec); err != nil {
		inv.logger.Errorf("Failed to append execution log for step %s: %v", stepID, err)
	}
}
