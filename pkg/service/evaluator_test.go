package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/service"
)

func TestEvaluateSuccessCriteria(t *testing.T) {
	structured := func(ids ...string) map[string]models.Output {
		outputs := make(map[string]models.Output, len(ids))
		for _, id := range ids {
			outputs[id] = models.Output{"status": "done"}
		}
		return outputs
	}

	t.Run("EmptyCriteriaAlwaysPasses", func(t *testing.T) {
		ok, reason := service.EvaluateSuccessCriteria(models.SuccessCriteria{}, map[string]models.Output{})
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("MinSuccessfulStepsMet", func(t *testing.T) {
		criteria := models.SuccessCriteria{MinSuccessfulSteps: 2}
		ok, _ := service.EvaluateSuccessCriteria(criteria, structured("a", "b"))
		assert.True(t, ok)
	})

	t.Run("MinSuccessfulStepsNotMet", func(t *testing.T) {
		criteria := models.SuccessCriteria{MinSuccessfulSteps: 3}
		ok, reason := service.EvaluateSuccessCriteria(criteria, structured("a", "b"))
		assert.False(t, ok)
		assert.Contains(t, reason, "min_successful_steps: 2 < 3")
	})

	t.Run("RequiredOutputsPresent", func(t *testing.T) {
		criteria := models.SuccessCriteria{RequiredOutputs: []string{"a", "b"}}
		ok, _ := service.EvaluateSuccessCriteria(criteria, structured("a", "b", "c"))
		assert.True(t, ok)
	})

	t.Run("RequiredOutputsMissing", func(t *testing.T) {
		criteria := models.SuccessCriteria{RequiredOutputs: []string{"a", "missing"}}
		ok, reason := service.EvaluateSuccessCriteria(criteria, structured("a"))
		assert.False(t, ok)
		assert.Contains(t, reason, "required_outputs: missing 'missing'")
	})

	t.Run("SchemaComplianceMet", func(t *testing.T) {
		criteria := models.SuccessCriteria{SchemaCompliance: 0.5}
		outputs := structured("a")
		outputs["b"] = models.Output{models.RawOutputKey: "free text"}
		ok, _ := service.EvaluateSuccessCriteria(criteria, outputs)
		assert.True(t, ok)
	})

	t.Run("SchemaComplianceNotMet", func(t *testing.T) {
		criteria := models.SuccessCriteria{SchemaCompliance: 0.9}
		outputs := structured("a")
		outputs["b"] = models.Output{models.RawOutputKey: "free text"}
		ok, reason := service.EvaluateSuccessCriteria(criteria, outputs)
		assert.False(t, ok)
		assert.Contains(t, reason, "schema_compliance: 0.50 < 0.90")
	})

	t.Run("AllFailingRulesReported", func(t *testing.T) {
		criteria := models.SuccessCriteria{
			MinSuccessfulSteps: 5,
			RequiredOutputs:    []string{"gone"},
			SchemaCompliance:   1.0,
		}
		outputs := map[string]models.Output{"a": {models.RawOutputKey: "text"}}
		ok, reason := service.EvaluateSuccessCriteria(criteria, outputs)
		assert.False(t, ok)
		assert.Contains(t, reason, "min_successful_steps")
		assert.Contains(t, reason, "required_outputs")
		assert.Contains(t, reason, "schema_compliance")
	})

	t.Run("Deterministic", func(t *testing.T) {
		criteria := models.SuccessCriteria{MinSuccessfulSteps: 1, RequiredOutputs: []string{"a"}}
		outputs := structured("a")
		first, firstReason := service.EvaluateSuccessCriteria(criteria, outputs)
		second, secondReason := service.EvaluateSuccessCriteria(criteria, outputs)
		assert.Equal(t, first, second)
		assert.Equal(t, firstReason, secondReason)
	})
}

func TestSchemaComplianceScore(t *testing.T) {
	t.Run("EmptyOutputsScoreZero", func(t *testing.T) {
		assert.Equal(t, 0.0, service.SchemaComplianceScore(map[string]models.Output{}))
	})

	t.Run("AllStructured", func(t *testing.T) {
		outputs := map[string]models.Output{
			"a": {"x": 1},
			"b": {"y": 2},
		}
		assert.Equal(t, 1.0, service.SchemaComplianceScore(outputs))
	})

	t.Run("MixedStructuredAndRaw", func(t *testing.T) {
		outputs := map[string]models.Output{
			"a": {"x": 1},
			"b": {models.RawOutputKey: "unparsed"},
			"c": {"y": 2},
			"d": {models.RawOutputKey: "also unparsed"},
		}
		assert.Equal(t, 0.5, service.SchemaComplianceScore(outputs))
	})
}
