package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowd-io/flowd/pkg/schema"
)

// SetStateHandler assigns one scope variable. The value is coerced per
// the configured type; string values and json literals are interpolated
// against the scope before assignment.
type SetStateHandler struct {
	deps Deps
}

func (h *SetStateHandler) Type() schema.NodeType { return schema.NodeTypeSetState }

func (h *SetStateHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.SetStateData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.Key == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "set-state key is required").WithNode(req.Node.ID)
	}

	value, err := h.coerce(ctx, data, req)
	if err != nil {
		return nil, err
	}

	req.Scope.SetState(data.Key, value)
	return &Result{Output: map[string]any{"key": data.Key, "value": value}}, nil
}

func (h *SetStateHandler) coerce(ctx context.Context, data schema.SetStateData, req *Request) (any, error) {
	switch strings.ToLower(data.ValueType) {
	case "string", "":
		var s string
		if err := json.Unmarshal(data.Value, &s); err != nil {
			// A bare unquoted value is treated as the literal string.
			s = strings.Trim(string(data.Value), `"`)
		}
		return h.deps.Resolver.ResolveString(ctx, s, req.Scope)

	case "number":
		var n float64
		if err := json.Unmarshal(data.Value, &n); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "set-state value %s is not a number", data.Value).WithNode(req.Node.ID)
		}
		return n, nil

	case "boolean":
		var b bool
		if err := json.Unmarshal(data.Value, &b); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "set-state value %s is not a boolean", data.Value).WithNode(req.Node.ID)
		}
		return b, nil

	case "json":
		resolved, err := h.deps.Resolver.ResolveRaw(ctx, data.Value, req.Scope)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(resolved, &v); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "set-state value is not valid JSON").WithNode(req.Node.ID).WithCause(err)
		}
		return v, nil

	case "expression":
		var expr string
		if err := json.Unmarshal(data.Value, &expr); err != nil {
			expr = string(data.Value)
		}
		value, err := h.deps.Engines.Expr().Evaluate(ctx, expr, req.Scope.Flatten())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExpression, "set-state expression failed").WithNode(req.Node.ID).WithCause(err)
		}
		return value, nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown set-state value type %q", data.ValueType).WithNode(req.Node.ID)
	}
}
