package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

// Fatal scheduling conditions. None of these is retried; they abort the
// workflow before (or instead of) dispatching further waves.
var (
	ErrCircularDependency     = errors.New("circular dependency detected in workflow steps")
	ErrUnresolvableDependency = errors.New("unresolvable dependency in workflow steps")
	ErrIterationBudget        = errors.New("scheduler exceeded its iteration budget")
)

// Readiness tags the outcome of a readiness computation over the pending
// step set.
type Readiness int

const (
	Ready Readiness = iota
	CircularDependency
	UnresolvableDependency
)

// computeReady returns the steps whose dependencies are all completed. When
// no step is ready and some are still pending, the tag distinguishes a true
// cycle (every unmet dependency is itself pending) from a dependency that
// the workflow does not contain at all.
func computeReady(pending map[string]*models.Step, completed map[string]struct{}) ([]*models.Step, Readiness) {
	var ready []*models.Step
	for _, step := range pending {
		ok := true
		for _, dep := range step.Dependencies {
			if _, done := completed[dep]; !done {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	if len(ready) > 0 || len(pending) == 0 {
		return ready, Ready
	}

	for _, step := range pending {
		for _, dep := range step.Dependencies {
			if _, done := completed[dep]; done {
				continue
			}
			if _, isPending := pending[dep]; !isPending {
				return nil, UnresolvableDependency
			}
		}
	}
	return nil, CircularDependency
}

// executor drives one workflow run to completion. It is the single writer of
// the workflow's execution state; step goroutines hand their results back
// through a channel instead of mutating shared maps.
type executor struct {
	wf      *models.Workflow
	invoker *invoker
	store   storage.Store
	logger  Logger
	runID   string
	workers int
}

// stepSettled pairs a step with its result for wave collection.
type stepSettled struct {
	step   *models.Step
	result models.StepResult
}

// run executes the dependency graph wave by wave and returns the recorded
// outputs. A non-nil error means the run aborted: a fatal graph condition, a
// terminal step failure, or context cancellation. Outputs recorded before
// the abort are returned either way.
func (e *executor) run(ctx context.Context) (map[string]models.Output, error) {
	pending := make(map[string]*models.Step, len(e.wf.Steps))
	for i := range e.wf.Steps {
		pending[e.wf.Steps[i].ID] = &e.wf.Steps[i]
	}
	completed := make(map[string]struct{}, len(pending))
	outputs := make(map[string]models.Output, len(pending))

	// Safety net against a logic error producing a non-terminating loop.
	// Exceeding it is an internal invariant violation, not a cycle.
	maxIterations := 2 * len(e.wf.Steps)

	for iteration := 0; len(pending) > 0; iteration++ {
		if iteration >= maxIterations {
			return outputs, errors.Wrapf(ErrIterationBudget, "%d iterations for %d steps", iteration, len(e.wf.Steps))
		}
		if err := ctx.Err(); err != nil {
			return outputs, errors.Wrap(err, "workflow execution cancelled")
		}

		ready, tag := computeReady(pending, completed)
		switch tag {
		case CircularDependency:
			return outputs, ErrCircularDependency
		case UnresolvableDependency:
			return outputs, ErrUnresolvableDependency
		}

		settled := e.dispatchWave(ctx, ready, outputs)

		// Record every accepted result of the wave before judging failures,
		// so the outputs map stays consistent for auditing.
		var failure *models.StepFailure
		for _, s := range settled {
			if s.result.Succeeded() {
				outputs[s.step.ID] = s.result.Output
				completed[s.step.ID] = struct{}{}
				delete(pending, s.step.ID)
				e.recordOutput(s.step.ID, s.result.Output)
			} else if failure == nil {
				failure = s.result.Failure
			}
		}
		if failure != nil {
			// The wave has already drained; no further waves are dispatched.
			return outputs, failure
		}
	}
	return outputs, nil
}

// dispatchWave runs every ready step concurrently, bounded by the worker
// budget, and blocks until the whole wave has settled.
func (e *executor) dispatchWave(ctx context.Context, ready []*models.Step, outputs map[string]models.Output) []stepSettled {
	e.logger.Infof("Dispatching wave of %d step(s) for workflow %s", len(ready), e.wf.ID)

	workers := e.workers
	if workers <= 0 {
		workers = len(ready)
	}
	sem := make(chan struct{}, workers)
	results := make(chan stepSettled, len(ready))

	var wg sync.WaitGroup
	for _, step := range ready {
		wg.Add(1)
		go func(step *models.Step) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- stepSettled{step: step, result: e.invoker.invokeStep(ctx, e.wf, step, outputs)}
		}(step)
	}
	wg.Wait()
	close(results)

	settled := make([]stepSettled, 0, len(ready))
	for s := range results {
		settled = append(settled, s)
	}
	return settled
}

// recordOutput persists an accepted result before the next wave starts, so a
// dependent step never observes a missing dependency output.
func (e *executor) recordOutput(stepID string, output models.Output) {
	if err := e.store.SaveOutput(e.wf.ID, stepID, output); err != nil {
		e.logger.Errorf("Failed to persist output of step %s: %v", stepID, err)
	}
	e.audit(stepID, 0, "step_completed", "")
}

// audit appends an execution-log record. Logging is additive: a failing
// store never blocks or fails the execution path.
func (e *executor) audit(stepID string, attempt int, event, message string) {
	rec := models.ExecutionLog{
		RunID:      e.runID,
		WorkflowID: e.wf.ID,
		StepID:     stepID,
		Attempt:    attempt,
		Event:      event,
		Message:    message,
		LoggedAt:   time.Now(),
	}
	if err := e.store.AppendExecutionLog(rec); err != nil {
		e.logger.Errorf("Failed to append execution log for workflow %s: %v", e.wf.ID, err)
	}
}
