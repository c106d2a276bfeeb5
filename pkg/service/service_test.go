package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/schemantics/agentflow/pkg/agent"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/service"
	"github.com/schemantics/agentflow/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func testConfig() service.Config {
	return service.Config{
		MaxConcurrentSteps: 5,
		DefaultTimeout:     time.Second,
		RetryDelays:        []time.Duration{time.Millisecond},
	}
}

func okAgent() agent.InvokeFunc {
	return func(ctx context.Context, payload agent.TaskPayload) (models.Output, error) {
		return models.Output{"status": "done"}, nil
	}
}

func definition(id string, steps ...models.StepDefinition) models.WorkflowDefinition {
	return models.WorkflowDefinition{
		ID:          id,
		Name:        id + " workflow",
		Description: "test workflow " + id,
		Steps:       steps,
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	registry := agent.NewRegistry()
	assert.NoError(t, registry.Register("worker", okAgent()))
	svc := service.NewWorkflowService(storage.NewMockStore(), registry, testConfig(), logger{})

	step := func(id string, deps ...string) models.StepDefinition {
		return models.StepDefinition{ID: id, AgentType: "worker", Description: "step " + id, Dependencies: deps}
	}

	assertRejected := func(t *testing.T, def models.WorkflowDefinition, wantReason string) {
		_, err := svc.CreateWorkflow(def)
		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, wantReason)
	}

	t.Run("MissingWorkflowID", func(t *testing.T) {
		def := definition("", step("a"))
		def.ID = ""
		assertRejected(t, def, "missing workflow id")
	})

	t.Run("MissingStepFields", func(t *testing.T) {
		def := definition("wf-fields", models.StepDefinition{ID: "a", AgentType: "worker"})
		assertRejected(t, def, "requires id, agent_type and description")
	})

	t.Run("DuplicateStepID", func(t *testing.T) {
		assertRejected(t, definition("wf-dup", step("a"), step("a")), "duplicate step id 'a'")
	})

	t.Run("UnknownAgentType", func(t *testing.T) {
		def := definition("wf-agent", models.StepDefinition{ID: "a", AgentType: "nonexistent", Description: "step a"})
		assertRejected(t, def, "unknown agent type 'nonexistent'")
	})

	t.Run("SelfDependency", func(t *testing.T) {
		assertRejected(t, definition("wf-self", step("a", "a")), "depends on itself")
	})

	t.Run("UnresolvableDependency", func(t *testing.T) {
		assertRejected(t, definition("wf-ghost", step("a", "ghost")), "depends on unknown step 'ghost'")
	})

	t.Run("CircularDependency", func(t *testing.T) {
		assertRejected(t, definition("wf-cycle", step("a", "b"), step("b", "c"), step("c", "a")), "cycle detected")
	})

	t.Run("ValidDefinitionPersistedAsPending", func(t *testing.T) {
		wf, err := svc.CreateWorkflow(definition("wf-valid", step("a"), step("b", "a")))
		assert.NoError(t, err)
		assert.Equal(t, models.PendingWorkflowStatus, wf.Status)
		assert.Len(t, wf.Steps, 2)
		assert.Equal(t, models.OperationsDomain, wf.Domain)
		assert.Equal(t, models.MediumPriority, wf.Priority)
		assert.Equal(t, models.DefaultRetryBudget, wf.Steps[0].RetryBudget)

		stored, err := svc.GetWorkflow("wf-valid")
		assert.NoError(t, err)
		assert.Equal(t, models.PendingWorkflowStatus, stored.Status)
		assert.Len(t, stored.Steps, 2)
	})
}

func TestExecuteWorkflowPipeline(t *testing.T) {
	newService := func(t *testing.T, reg *agent.Registry) *service.WorkflowService {
		return service.NewWorkflowService(storage.NewMockStore(), reg, testConfig(), logger{})
	}

	t.Run("CompletedEnvelope", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register("worker", okAgent()))
		svc := newService(t, registry)

		def := definition("pipeline",
			models.StepDefinition{ID: "fetch", AgentType: "worker", Description: "fetch data"},
			models.StepDefinition{ID: "process", AgentType: "worker", Description: "process data", Dependencies: []string{"fetch"}},
		)
		def.SuccessCriteria = models.SuccessCriteria{MinSuccessfulSteps: 2, RequiredOutputs: []string{"process"}}

		_, err := svc.CreateWorkflow(def)
		assert.NoError(t, err)

		result, err := svc.ExecuteWorkflow(context.Background(), "pipeline")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedWorkflowStatus, result.Status)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.RunID)
		assert.Equal(t, "pipeline", result.WorkflowID)
		assert.Len(t, result.Outputs, 2)
		assert.Empty(t, result.Reason)
		assert.GreaterOrEqual(t, result.ExecutionDurationSeconds, 0)

		wf, err := svc.GetWorkflow("pipeline")
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedWorkflowStatus, wf.Status)
		for _, step := range wf.Steps {
			assert.Equal(t, models.CompletedStepStatus, step.Status)
			assert.Equal(t, 1, step.Attempts)
		}

		recs, err := svc.GetExecutionLog("pipeline")
		assert.NoError(t, err)
		assert.NotEmpty(t, recs)
	})

	t.Run("SuccessCriteriaNotMet", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register("worker", okAgent()))
		svc := newService(t, registry)

		def := definition("strict",
			models.StepDefinition{ID: "only", AgentType: "worker", Description: "single step"},
		)
		def.SuccessCriteria = models.SuccessCriteria{MinSuccessfulSteps: 2}

		_, err := svc.CreateWorkflow(def)
		assert.NoError(t, err)

		result, err := svc.ExecuteWorkflow(context.Background(), "strict")
		assert.NoError(t, err)
		assert.Equal(t, models.FailedWorkflowStatus, result.Status)
		assert.False(t, result.Success)
		assert.Contains(t, result.Reason, "success_criteria_not_met")
		assert.Contains(t, result.Reason, "min_successful_steps")
		// The step itself still ran and its output is in the envelope.
		assert.Len(t, result.Outputs, 1)
	})

	t.Run("AbortedRunSkipsEvaluator", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register("worker", okAgent()))
		assert.NoError(t, registry.Register("broken", agent.InvokeFunc(func(ctx context.Context, payload agent.TaskPayload) (models.Output, error) {
			return nil, errors.New("agent exploded")
		})))
		svc := newService(t, registry)

		// Criteria would pass on the surviving output alone; the abort must
		// still yield FAILED with the abort reason, not a criteria verdict.
		def := definition("aborted",
			models.StepDefinition{ID: "good", AgentType: "worker", Description: "succeeds"},
			models.StepDefinition{ID: "bad", AgentType: "broken", Description: "fails terminally", RetryBudget: 1},
		)
		def.SuccessCriteria = models.SuccessCriteria{MinSuccessfulSteps: 1}

		_, err := svc.CreateWorkflow(def)
		assert.NoError(t, err)

		result, err := svc.ExecuteWorkflow(context.Background(), "aborted")
		assert.NoError(t, err)
		assert.Equal(t, models.FailedWorkflowStatus, result.Status)
		assert.False(t, result.Success)
		assert.Contains(t, result.Reason, "step bad")
		assert.NotContains(t, result.Reason, "success_criteria_not_met")
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		registry := agent.NewRegistry()
		svc := newService(t, registry)
		_, err := svc.ExecuteWorkflow(context.Background(), "nonexistent")
		assert.Error(t, err)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ConcurrentExecutionRejected", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register("gated", agent.InvokeFunc(func(ctx context.Context, payload agent.TaskPayload) (models.Output, error) {
			close(started)
			<-release
			return models.Output{"status": "done"}, nil
		})))
		svc := newService(t, registry)

		_, err := svc.CreateWorkflow(definition("gated-wf",
			models.StepDefinition{ID: "only", AgentType: "gated", Description: "blocks until released"},
		))
		assert.NoError(t, err)

		done := make(chan models.ExecutionResult, 1)
		go func() {
			result, _ := svc.ExecuteWorkflow(context.Background(), "gated-wf")
			done <- result
		}()

		<-started
		_, err = svc.ExecuteWorkflow(context.Background(), "gated-wf")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already running")

		close(release)
		result := <-done
		assert.Equal(t, models.CompletedWorkflowStatus, result.Status)
	})

	t.Run("RawOutputCountsAgainstCompliance", func(t *testing.T) {
		registry := agent.NewRegistry()
		assert.NoError(t, registry.Register("rambler", agent.InvokeFunc(func(ctx context.Context, payload agent.TaskPayload) (models.Output, error) {
			return models.Output{models.RawOutputKey: "free-form text the agent produced"}, nil
		})))
		svc := newService(t, registry)

		def := definition("raw",
			models.StepDefinition{ID: "only", AgentType: "rambler", Description: "produces unstructured text"},
		)
		def.SuccessCriteria = models.SuccessCriteria{SchemaCompliance: 1.0}

		_, err := svc.CreateWorkflow(def)
		assert.NoError(t, err)

		result, err := svc.ExecuteWorkflow(context.Background(), "raw")
		assert.NoError(t, err)
		assert.Equal(t, models.FailedWorkflowStatus, result.Status)
		assert.Contains(t, result.Reason, "schema_compliance")
		// The raw output is retained even though it fails the criterion.
		assert.Contains(t, result.Outputs, "only")
	})
}
