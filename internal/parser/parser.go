package parser

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/schemantics/agentflow/pkg/models"
)

// Parse decodes a workflow definition document. YAML and JSON are both
// accepted (JSON is a YAML subset). Only decoding happens here; structural
// validation is the service's job and runs before any execution.
func Parse(data []byte) (models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return models.WorkflowDefinition{}, errors.Wrap(err, "failed to parse workflow definition")
	}
	return def, nil
}

// ParseFile reads and decodes a workflow definition from disk.
func ParseFile(path string) (models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowDefinition{}, errors.Wrapf(err, "failed to read definition file %s", path)
	}
	return Parse(data)
}
