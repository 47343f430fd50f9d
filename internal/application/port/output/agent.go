package output

import (
	"context"
	"encoding/json"
)

// AgentGateway is the boundary to the inference service.
type AgentGateway interface {
	// Generate returns a free-text completion. Transient failures are
	// retried up to 3 attempts inside the gateway.
	Generate(ctx context.Context, prompt, system string) (string, error)

	// GenerateStructured returns a JSON object. The gateway requests
	// JSON-only output from the model and falls back to extraction and a
	// single repair round when the model does not honor that request.
	GenerateStructured(ctx context.Context, prompt, system string) (json.RawMessage, error)
}
