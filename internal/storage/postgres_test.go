package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	internal_storage "github.com/schemantics/agentflow/internal/storage"
	"github.com/schemantics/agentflow/internal/testutil"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	newTestStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.InitStore(testDB.ConnStr)
		assert.NoError(t, err)
		t.Cleanup(func() {
			_, err := testDB.DB.Exec("TRUNCATE TABLE workflows RESTART IDENTITY CASCADE")
			assert.NoError(t, err)
			_, err = testDB.DB.Exec("TRUNCATE TABLE execution_log RESTART IDENTITY")
			assert.NoError(t, err)
			store.Close()
		})
		return store
	}

	timeout := 10 * time.Minute
	sampleWorkflow := func(id string) models.Workflow {
		now := time.Now()
		return models.Workflow{
			ID:          id,
			Name:        "Campaign " + id,
			Description: "test campaign",
			Domain:      models.MarketingDomain,
			Priority:    models.HighPriority,
			Status:      models.PendingWorkflowStatus,
			SuccessCriteria: models.SuccessCriteria{
				MinSuccessfulSteps: 2,
				RequiredOutputs:    []string{"write"},
				SchemaCompliance:   0.8,
			},
			BusinessContext: models.DefaultBusinessContext(),
			CreatedAt:       now,
			UpdatedAt:       now,
			Steps: []models.Step{
				{
					ID:          "research",
					WorkflowID:  id,
					AgentType:   "market-research",
					Description: "gather data",
					RetryBudget: 3,
					Status:      models.PendingStepStatus,
					Timeout:     &timeout,
				},
				{
					ID:             "write",
					WorkflowID:     id,
					AgentType:      "content-writer",
					Description:    "draft article",
					Dependencies:   []string{"research"},
					RetryBudget:    2,
					Status:         models.PendingStepStatus,
					OutputMapping:  map[string]string{"research": "research_data"},
					RequiredFields: []string{"article"},
				},
			},
		}
	}

	saveWorkflow := func(t *testing.T, store *internal_storage.PostgresStore, wf models.Workflow) {
		assert.NoError(t, store.SaveWorkflow(wf))
		for _, step := range wf.Steps {
			assert.NoError(t, store.SaveStep(step))
			for _, dep := range step.Dependencies {
				assert.NoError(t, store.SaveDependency(models.Dependency{StepID: step.ID, DependsOn: dep, WorkflowID: wf.ID}))
			}
		}
	}

	t.Run("SaveAndGetWorkflow", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-roundtrip"))

		got, err := store.GetWorkflow("wf-roundtrip")
		assert.NoError(t, err)
		assert.Equal(t, "Campaign wf-roundtrip", got.Name)
		assert.Equal(t, models.MarketingDomain, got.Domain)
		assert.Equal(t, models.HighPriority, got.Priority)
		assert.Equal(t, 2, got.SuccessCriteria.MinSuccessfulSteps)
		assert.Equal(t, []string{"write"}, got.SuccessCriteria.RequiredOutputs)
		assert.Len(t, got.Steps, 2)

		// Steps come back ordered by id: research before write.
		research, write := got.Steps[0], got.Steps[1]
		assert.Equal(t, "research", research.ID)
		assert.NotNil(t, research.Timeout)
		assert.Equal(t, timeout, *research.Timeout)
		assert.Equal(t, []string{"research"}, write.Dependencies)
		assert.Equal(t, "research_data", write.OutputMapping["research"])
		assert.Equal(t, []string{"article"}, write.RequiredFields)
	})

	t.Run("GetWorkflowNotFound", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetWorkflow("nonexistent")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateWorkflowStatusTimestamps", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-status"))

		assert.NoError(t, store.UpdateWorkflowStatus("wf-status", models.RunningWorkflowStatus))
		running, err := store.GetWorkflow("wf-status")
		assert.NoError(t, err)
		assert.Equal(t, models.RunningWorkflowStatus, running.Status)
		assert.NotNil(t, running.StartedAt)
		assert.Nil(t, running.CompletedAt)

		assert.NoError(t, store.UpdateWorkflowStatus("wf-status", models.CompletedWorkflowStatus))
		completed, err := store.GetWorkflow("wf-status")
		assert.NoError(t, err)
		assert.NotNil(t, completed.CompletedAt)
		assert.Equal(t, running.StartedAt.Unix(), completed.StartedAt.Unix())
	})

	t.Run("StepStatusAndAttempts", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-steps"))

		assert.NoError(t, store.UpdateStepStatus("research", "wf-steps", models.RunningStepStatus, ""))
		assert.NoError(t, store.UpdateStepAttempts("research", "wf-steps", 2))
		assert.NoError(t, store.UpdateStepStatus("research", "wf-steps", models.FailedStepStatus, "agent exploded"))

		step, err := store.GetStep("research", "wf-steps")
		assert.NoError(t, err)
		assert.Equal(t, models.FailedStepStatus, step.Status)
		assert.Equal(t, 2, step.Attempts)
		assert.Equal(t, "agent exploded", step.ErrorMsg)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.FinishedAt)
	})

	t.Run("CurrentStep", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-current"))

		assert.NoError(t, store.UpdateCurrentStep("wf-current", "research"))
		wf, err := store.GetWorkflow("wf-current")
		assert.NoError(t, err)
		assert.Equal(t, "research", wf.CurrentStep)
	})

	t.Run("OutputsUpsert", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-outputs"))

		assert.NoError(t, store.SaveOutput("wf-outputs", "research", models.Output{"status": "done", "keywords": []any{"a", "b"}}))
		assert.NoError(t, store.SaveOutput("wf-outputs", "research", models.Output{"status": "redone"}))
		assert.NoError(t, store.SaveOutput("wf-outputs", "write", models.Output{models.RawOutputKey: "free text"}))

		outputs, err := store.GetOutputs("wf-outputs")
		assert.NoError(t, err)
		assert.Len(t, outputs, 2)
		assert.Equal(t, "redone", outputs["research"]["status"])
		assert.False(t, outputs["write"].Structured())
	})

	t.Run("ExecutionLogOrdering", func(t *testing.T) {
		store := newTestStore(t)
		saveWorkflow(t, store, sampleWorkflow("wf-log"))

		events := []string{"workflow_started", "attempt_started", "attempt_succeeded", "workflow_completed"}
		for _, event := range events {
			assert.NoError(t, store.AppendExecutionLog(models.ExecutionLog{
				RunID:      "run-1",
				WorkflowID: "wf-log",
				StepID:     "research",
				Attempt:    1,
				Event:      event,
				LoggedAt:   time.Now(),
			}))
		}

		recs, err := store.GetExecutionLog("wf-log")
		assert.NoError(t, err)
		assert.Len(t, recs, len(events))
		for i, rec := range recs {
			assert.Equal(t, events[i], rec.Event)
			assert.Equal(t, "run-1", rec.RunID)
		}
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Begin()
		assert.NoError(t, err)
		assert.NoError(t, tx.SaveWorkflow(sampleWorkflow("wf-tx-commit")))
		assert.NoError(t, tx.Commit())

		_, err = store.GetWorkflow("wf-tx-commit")
		assert.NoError(t, err)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		store := newTestStore(t)

		tx, err := store.Begin()
		assert.NoError(t, err)
		assert.NoError(t, tx.SaveWorkflow(sampleWorkflow("wf-tx-rollback")))
		assert.NoError(t, tx.Rollback())

		_, err = store.GetWorkflow("wf-tx-rollback")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
