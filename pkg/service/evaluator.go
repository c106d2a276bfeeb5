package service

import (
	"fmt"
	"strings"

	"github.com/schemantics/agentflow/pkg/models"
)

// EvaluateSuccessCriteria checks every configured rule against the collected
// step outputs. All configured rules must pass for a Completed verdict; the
// returned reason names each failing rule. The function is pure: the same
// outputs map always yields the same verdict.
//
// It is not consulted when the scheduler aborted; an aborted run is Failed
// unconditionally with the abort reason attached.
func EvaluateSuccessCriteria(criteria models.SuccessCriteria, outputs map[string]models.Output) (bool, string) {
	var failed []string

	if criteria.MinSuccessfulSteps > 0 {
		successful := 0
		for _, out := range outputs {
			if out != nil {
				successful++
			}
		}
		if successful < criteria.MinSuccessfulSteps {
			failed = append(failed, fmt.Sprintf("min_successful_steps: %d < %d", successful, criteria.MinSuccessfulSteps))
		}
	}

	for _, required := range criteria.RequiredOutputs {
		if _, ok := outputs[required]; !ok {
			failed = append(failed, fmt.Sprintf("required_outputs: missing '%s'", required))
		}
	}

	if criteria.SchemaCompliance > 0 {
		score := SchemaComplianceScore(outputs)
		if score < criteria.SchemaCompliance {
			failed = append(failed, fmt.Sprintf("schema_compliance: %.2f < %.2f", score, criteria.SchemaCompliance))
		}
	}

	if len(failed) > 0 {
		return false, strings.Join(failed, "; ")
	}
	return true, ""
}

// SchemaComplianceScore is the fraction of outputs that are well-formed
// structured results rather than raw/degenerate ones. An empty outputs map
// scores zero.
func SchemaComplianceScore(outputs map[string]models.Output) float64 {
	if len(outputs) == 0 {
		return 0.0
	}
	compliant := 0
	for _, out := range outputs {
		if out.Structured() {
			compliant++
		}
	}
	return float64(compliant) / float64(len(outputs))
}
