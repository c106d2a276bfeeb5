package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/schemantics/agentflow/pkg/agent"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/storage"
)

// randomDAG builds an acyclic step set: each step may only depend on steps
// declared before it.
func randomDAG(rnd *rand.Rand, size int) []models.Step {
	steps := make([]models.Step, 0, size)
	for i := 0; i < size; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if rnd.Intn(3) == 0 {
				deps = append(deps, fmt.Sprintf("s%d", j))
			}
		}
		steps = append(steps, models.Step{
			ID:           fmt.Sprintf("s%d", i),
			AgentType:    "worker",
			Description:  fmt.Sprintf("generated step %d", i),
			Dependencies: deps,
		})
	}
	return steps
}

func TestSchedulerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("acyclic graphs run every step exactly once, dependencies first", prop.ForAll(
		func(size int, seed int64) bool {
			rnd := rand.New(rand.NewSource(seed))
			steps := randomDAG(rnd, size)

			recorder := newInvocationRecorder()
			registry := agent.NewRegistry()
			if err := registry.Register("worker", agent.InvokeFunc(func(ctx context.Context, payload agent.TaskPayload) (models.Output, error) {
				recorder.record(payload.TaskID)
				return models.Output{"status": "done"}, nil
			})); err != nil {
				return false
			}

			wf := testWorkflow("prop", steps...)
			exec := newTestExecutor(wf, registry, storage.NewMockStore())
			outputs, err := exec.run(context.Background())
			if err != nil || len(outputs) != size {
				return false
			}

			for _, step := range steps {
				if recorder.invocations("prop_"+step.ID) != 1 {
					return false
				}
				stepIdx := recorder.indexOf("prop_" + step.ID)
				for _, dep := range step.Dependencies {
					if recorder.indexOf("prop_"+dep) >= stepIdx {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.Int64(),
	))

	properties.Property("verdict is deterministic for a fixed outputs map", prop.ForAll(
		func(total int, structured int, threshold int) bool {
			if structured > total {
				structured = total
			}
			outputs := make(map[string]models.Output, total)
			for i := 0; i < total; i++ {
				if i < structured {
					outputs[fmt.Sprintf("s%d", i)] = models.Output{"status": "done"}
				} else {
					outputs[fmt.Sprintf("s%d", i)] = models.Output{models.RawOutputKey: "text"}
				}
			}
			criteria := models.SuccessCriteria{
				MinSuccessfulSteps: threshold,
				SchemaCompliance:   0.5,
			}
			ok1, reason1 := EvaluateSuccessCriteria(criteria, outputs)
			ok2, reason2 := EvaluateSuccessCriteria(criteria, outputs)
			return ok1 == ok2 && reason1 == reason2
		},
		gen.IntRange(0, 8),
		gen.IntRange(0, 8),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
