package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/flowd-io/flowd/internal/mcp"
	"github.com/flowd-io/flowd/pkg/schema"
)

// MCPHandler invokes one named tool on a configured MCP server.
// Argument values are interpolated before the call. A tool that needs
// an OAuth grant suspends the node with pending auth instead of failing.
type MCPHandler struct {
	deps Deps
}

func (h *MCPHandler) Type() schema.NodeType { return schema.NodeTypeMCP }

func (h *MCPHandler) Execute(ctx context.Context, req *Request) (*Result, error) {
	data, err := decodeData[schema.MCPData](req.Node)
	if err != nil {
		return nil, err
	}
	if data.Server == "" || data.Tool == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "mcp server and tool are required").WithNode(req.Node.ID)
	}
	if h.deps.Tools == nil {
		return nil, schema.NewError(schema.ErrCodeHandler, "no mcp hub configured").WithNode(req.Node.ID)
	}

	args, err := h.resolveArguments(ctx, data, req)
	if err != nil {
		return nil, err
	}

	var output any
	attempts, err := withRetry(ctx, data.Retry, h.deps.Logger, req.Node.ID, func() error {
		var callErr error
		output, callErr = h.deps.Tools.CallTool(ctx, data.Server, data.Tool, args)
		return callErr
	})
	if err != nil {
		var authErr *mcp.AuthRequiredError
		if errors.As(err, &authErr) {
			return &Result{
				Attempts: attempts,
				PendingAuth: &schema.PendingAuth{
					AuthID:   uuid.New().String(),
					NodeID:   req.Node.ID,
					ToolName: data.Tool,
					Message:  authErr.Message,
					AuthURL:  authErr.AuthURL,
				},
			}, nil
		}
		return nil, err
	}

	return &Result{
		Output:   output,
		Attempts: attempts,
		ToolCalls: []schema.ToolCallRecord{{
			Server:    data.Server,
			Name:      data.Tool,
			Arguments: args,
			Result:    output,
		}},
	}, nil
}

func (h *MCPHandler) resolveArguments(ctx context.Context, data schema.MCPData, req *Request) (map[string]any, error) {
	if len(data.Arguments) == 0 {
		return nil, nil
	}
	resolved, err := h.deps.Resolver.ResolveRaw(ctx, data.Arguments, req.Scope)
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal(resolved, &args); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "mcp arguments must be a JSON object").WithNode(req.Node.ID).WithCause(err)
	}
	return args, nil
}
