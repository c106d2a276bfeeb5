package agent

import (
	"context"

	"github.com/schemantics/agentflow/pkg/models"
)

// InvokeFunc adapts a plain function to the Agent interface. Used for
// in-process agents in tests and examples.
type InvokeFunc func(ctx context.Context, payload TaskPayload) (models.Output, error)

func (f InvokeFunc) Invoke(ctx context.Context, payload TaskPayload) (models.Output, error) {
	return f(ctx, payload)
}
