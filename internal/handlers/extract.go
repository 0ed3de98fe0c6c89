package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/flowd-io/flowd/internal/llm"
	"github.com/flowd-io/flowd/pkg/schema"
)

const extractSystemPrompt = "Extract the requested data from the instructions. " +
	"Respond with a single JSON document matching the required schema, nothing else."

// ExtractHandler is a model call constrained to a declared JSON
// Schema. Output that does not validate fails the node; a retry policy
// re-prompts from scratch.
type ExtractHandler struct {
	deps Deps
}

func (h *ExtractHandler) Type() schema.NodeType { return schema.NodeTypeExtract }

func (h *ExtractHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.ExtractData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.Instructions == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "extract instructions are required").WithNode(req.Node.ID)
	}
	if len(data.Schema) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "extract schema is required").WithNode(req.Node.ID)
	}
	if h.deps.LLM == nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "no llm client configured").WithNode(req.Node.ID)
	}

	instructions, err := h.deps.Resolver.ResolveString(ctx, data.Instructions, req.Scope)
	if err != nil {
		return nil, err
	}
	rs, err := responseSchema(req.Node.ID, data.Schema)
	if err != nil {
		return nil, err
	}

	var output any
	attempts, err := withRetry(ctx, data.Retry, h.deps.Logger, req.Node.ID, func() error {
		var callErr error
		output, callErr = h.extract(ctx, req.Node, data, instructions, rs)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: output, Attempts: attempts}, nil
}

func (h *ExtractHandler) extract(ctx context.Context, node schema.Node, data schema.ExtractData, instructions string, rs *llm.ResponseSchema) (any, error) {
	resp, err := h.deps.LLM.Complete(ctx, &llm.Request{
		Model: data.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractSystemPrompt},
			{Role: llm.RoleUser, Content: instructions},
		},
		ResponseSchema: rs,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "model call failed").WithNode(node.ID).WithCause(err)
	}

	var parsed any
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "extract output is not valid JSON").WithNode(node.ID).WithCause(err)
	}
	if h.deps.Validator != nil {
		if err := h.deps.Validator.ValidateValue(parsed, data.Schema); err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "extract output does not match the declared schema").WithNode(node.ID).WithCause(err)
		}
	}
	return parsed, nil
}
