// Package handlers implements one execution strategy per node kind.
// The walker resolves a node's successor set from the Result: Branch
// for branching kinds, PendingAuth for suspension, Output otherwise.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/internal/llm"
	"github.com/flowd-io/flowd/internal/mcp"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Request carries everything a handler needs for one dispatch.
type Request struct {
	Node  schema.Node
	Scope *expressions.Scope

	// Decision is set only when re-dispatching a user-approval node
	// after an external resume.
	Decision *schema.ApprovalDecision
}

// Result is a handler's outcome. Exactly one of the optional fields is
// meaningful per node kind: Branch for if-else/while/user-approval,
// PendingAuth for suspension, ToolCalls for agent nodes.
type Result struct {
	Output      any
	Branch      string
	ToolCalls   []schema.ToolCallRecord
	PendingAuth *schema.PendingAuth
	Attempts    int
}

// Handler executes one node kind.
type Handler interface {
	Type() schema.NodeType
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// ToolCaller is the MCP surface handlers depend on.
type ToolCaller interface {
	Tools(server string) ([]mcp.ToolInfo, error)
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// SchemaValidator validates values against user-declared JSON Schemas.
type SchemaValidator interface {
	ValidateInput(input map[string]any, inputSchema []byte) error
	ValidateValue(value any, schemaBytes []byte) error
}

// Deps holds the shared collaborators injected into every handler.
type Deps struct {
	Resolver   *expressions.Resolver
	Engines    *expressions.Registry
	Validator  SchemaValidator
	LLM        llm.Client
	Tools      ToolCaller
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Registry maps node types to their handlers. The set is closed:
// construction registers every executable kind, and note is the one
// type deliberately absent.
type Registry struct {
	handlers map[schema.NodeType]Handler
}

// NewRegistry builds the full handler set.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	r := &Registry{handlers: make(map[schema.NodeType]Handler)}
	for _, h := range []Handler{
		&StartHandler{deps: deps},
		&AgentHandler{deps: deps},
		&MCPHandler{deps: deps},
		&HTTPHandler{deps: deps},
		&TransformHandler{deps: deps},
		&SetStateHandler{deps: deps},
		&IfElseHandler{deps: deps},
		&WhileHandler{deps: deps},
		&ApprovalHandler{deps: deps},
		&ExtractHandler{deps: deps},
		&EndHandler{},
	} {
		r.handlers[h.Type()] = h
	}
	return r
}

// Get retrieves the handler for a node type. Note nodes and unknown
// types are not dispatchable.
func (r *Registry) Get(t schema.NodeType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no handler for node type %q", t)
	}
	return h, nil
}

// decodeData unmarshals a node's type-specific configuration.
func decodeData[T any](node schema.Node) (T, error) {
	var data T
	if len(node.Data) == 0 {
		return data, schema.NewError(schema.ErrCodeValidation, "missing node data").WithNode(node.ID)
	}
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return data, schema.NewError(schema.ErrCodeValidation, "malformed node data").WithNode(node.ID).WithCause(err)
	}
	return data, nil
}
