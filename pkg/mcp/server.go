// Package mcp exposes the workflow engine as an MCP server, so agent
// runtimes can save, run, inspect and approve workflows over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/internal/streaming"
	"github.com/flowd-io/flowd/internal/validation"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Engine is the engine surface the tools call into.
type Engine interface {
	ExecuteAs(ctx context.Context, wf *store.WorkflowRecord, input map[string]any, executionID string) (*schema.Execution, error)
	Resume(ctx context.Context, executionID string, decision *schema.ApprovalDecision) (*schema.Execution, error)
}

// FlowdServerDeps holds the dependencies for creating a FlowdServer.
type FlowdServerDeps struct {
	Engine    Engine
	Store     store.Store
	Validator *validation.WorkflowValidator
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// FlowdServer wraps an MCP server with workflow tool handlers.
type FlowdServer struct {
	engine    Engine
	store     store.Store
	validator *validation.WorkflowValidator
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewFlowdServer creates a FlowdServer with all 5 tools registered.
func NewFlowdServer(deps FlowdServerDeps) *FlowdServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowdServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		hub:       deps.Hub,
		logger:    logger,
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"flowd",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowd runs node/edge workflows. Use flowd.save to register a workflow definition, flowd.run to execute one, flowd.status to check an execution, flowd.approve to resolve a pending approval gate, and flowd.query to list workflows/executions/events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. While serving, suspension and terminal events are
// pushed to the session that launched the execution.
func (s *FlowdServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		go s.watchEvents(ctx)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowdServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowdServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// watchEvents forwards workflow lifecycle events to the session that
// started the execution. Best-effort: a disconnected session is skipped.
func (s *FlowdServer) watchEvents(ctx context.Context) {
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{
			schema.EventWorkflowWaitingAuth,
			schema.EventWorkflowCompleted,
			schema.EventWorkflowFailed,
			schema.EventWorkflowCancelled,
		},
	})
	if err != nil {
		s.logger.Warn("event watch unavailable", "error", err)
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			payload := map[string]any{
				"execution_id": event.ExecutionID,
				"event_type":   event.EventType,
				"payload":      event.Payload,
			}
			if err := s.notifier.Notify(ctx, event.ExecutionID, payload); err != nil {
				s.logger.Warn("event push failed",
					"execution_id", event.ExecutionID, "error", err)
			}
		}
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("flowd.run",
		mcp.WithDescription("Execute a saved workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("input", mcp.Description("Input values for the workflow's start node")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flowd.status",
		mcp.WithDescription("Get workflow execution status"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to query")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("flowd.approve",
		mcp.WithDescription("Resolve a pending approval gate and resume the suspended execution"),
		mcp.WithString("approval_id", mcp.Required(), mcp.Description("Auth ID of the pending approval")),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("approve", "reject"),
			mcp.Description("Decision to apply"),
		),
		mcp.WithString("user_id", mcp.Description("Identity recorded on the decision")),
		mcp.WithString("comment", mcp.Description("Optional decision comment")),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flowd.save",
		mcp.WithDescription("Validate and register a workflow definition"),
		mcp.WithString("id", mcp.Description("Workflow ID (generated if omitted)")),
		mcp.WithString("name", mcp.Description("Display name")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition: nodes, edges")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("flowd.query",
		mcp.WithDescription("Query workflows, executions, or events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (workflow_id, execution_id, status, limit, since)")),
	)
}
