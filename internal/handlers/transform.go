package handlers

import (
	"context"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/pkg/schema"
)

// TransformHandler evaluates a user script in a sandboxed interpreter.
// The script sees input, lastOutput, state, and prior node outputs; it
// cannot touch the host environment. A script error fails the node
// with the interpreter's message.
type TransformHandler struct {
	deps Deps
}

func (h *TransformHandler) Type() schema.NodeType { return schema.NodeTypeTransform }

func (h *TransformHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.TransformData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.Script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform script is required").WithNode(req.Node.ID)
	}

	lang := data.Language
	if lang == "" {
		lang = schema.LangJQ
	}
	eng, err := h.deps.Engines.ForLanguage(lang)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "transform language %q is not supported", lang).WithNode(req.Node.ID)
	}

	output, err := eng.Evaluate(ctx, data.Script, h.scriptEnv(req.Scope))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "transform script failed").WithNode(req.Node.ID).WithCause(err)
	}
	return &Result{Output: output}, nil
}

// scriptEnv is the transform contract: the documented names plus prior
// node outputs for convenience.
func (h *TransformHandler) scriptEnv(scope *expressions.Scope) map[string]any {
	return scope.Flatten()
}
