package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/pkg/models"
)

// SubprocessAgent invokes an external worker process. The task payload is
// appended to the argv as a JSON document and the worker is expected to
// print a JSON field mapping on stdout. Unparseable stdout is retained as a
// raw output rather than treated as an error.
type SubprocessAgent struct {
	Command []string // argv, e.g. ["python3", "hooks/marketing_subagents.py", "seo-optimizer"]
}

// NewSubprocessAgent builds an agent from a command line.
func NewSubprocessAgent(command ...string) (*SubprocessAgent, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("empty agent command")
	}
	return &SubprocessAgent{Command: command}, nil
}

func (a *SubprocessAgent) Invoke(ctx context.Context, payload TaskPayload) (models.Output, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode task payload")
	}

	args := append(append([]string{}, a.Command[1:]...), string(encoded))
	cmd := exec.CommandContext(ctx, a.Command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Surface the timeout rather than the kill signal it caused.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Errorf("agent execution failed: %s", msg)
	}

	return ParseOutput(stdout.Bytes()), nil
}

// ParseOutput decodes agent stdout into a field mapping. Output that is not
// a JSON object degrades to a raw-output wrapper; it fails schema compliance
// later but never crashes the engine.
func ParseOutput(raw []byte) models.Output {
	var out models.Output
	if err := json.Unmarshal(raw, &out); err == nil && out != nil {
		return out
	}
	return models.Output{models.RawOutputKey: string(raw)}
}
