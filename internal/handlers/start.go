package handlers

import (
	"context"
	"encoding/json"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/pkg/schema"
)

// StartHandler validates the caller input against the node's declared
// schema and seeds the walk with it. A schema violation is a
// ValidationError, surfaced as a 4xx before any other node runs.
type StartHandler struct {
	deps Deps
}

func (h *StartHandler) Type() schema.NodeType { return schema.NodeTypeStart }

func (h *StartHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	// Start data is optional: a start node with no declared schema
	// accepts any input.
	var inputSchema json.RawMessage
	if len(req.Node.Data) > 0 {
		data, err := decodeData[schema.StartData](req.Node)
		if err != nil {
			return nil, err
		}
		inputSchema = data.InputSchema
	}

	input := scopeInput(req.Scope)
	if len(inputSchema) > 0 && h.deps.Validator != nil {
		if err := h.deps.Validator.ValidateInput(input, inputSchema); err != nil {
			return nil, err
		}
	}

	return &Result{Output: input}, nil
}

func scopeInput(scope *expressions.Scope) map[string]any {
	v, ok := scope.Lookup(expressions.ScopeInput)
	if !ok {
		return map[string]any{}
	}
	input, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return input
}
