package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// handleRun executes a saved workflow and blocks until it settles.
func (s *FlowdServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	record, getErr := s.store.GetWorkflow(ctx, workflowID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}

	// Pre-allocate the execution ID so lifecycle events reach the
	// launching session even for a run that suspends mid-flight.
	executionID := uuid.New().String()
	s.captureSession(ctx, executionID)

	exec, runErr := s.engine.ExecuteAs(ctx, record, input, executionID)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	return marshalResult(executionSummary(exec))
}

// handleStatus returns the current state of an execution.
func (s *FlowdServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	exec, getErr := s.store.GetExecution(ctx, executionID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	results, resErr := s.store.ListNodeResults(ctx, executionID)
	if resErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", resErr)), nil
	}

	return marshalResult(map[string]any{
		"execution":    exec,
		"node_results": results,
	})
}

// handleApprove resolves a pending approval gate and resumes the
// suspended execution in the same call.
func (s *FlowdServer) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID, err := req.RequireString("approval_id")
	if err != nil {
		return mcp.NewToolResultError("approval_id is required"), nil
	}
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	if action != "approve" && action != "reject" {
		return mcp.NewToolResultError(`action must be "approve" or "reject"`), nil
	}

	approval, getErr := s.store.GetApproval(ctx, approvalID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approval lookup failed: %v", getErr)), nil
	}

	decision := &schema.ApprovalDecision{
		AuthID:    approvalID,
		Approved:  action == "approve",
		DecidedBy: req.GetString("user_id", ""),
		Comment:   req.GetString("comment", ""),
	}
	if resolveErr := s.store.ResolveApproval(ctx, approvalID, decision); resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approval resolution failed: %v", resolveErr)), nil
	}

	s.captureSession(ctx, approval.ExecutionID)

	exec, resumeErr := s.engine.Resume(ctx, approval.ExecutionID, decision)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("decision recorded but resume failed: %v", resumeErr)), nil
	}

	summary := executionSummary(exec)
	summary["approved"] = decision.Approved
	return marshalResult(summary)
}

// handleSave validates and registers a workflow definition.
func (s *FlowdServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.Workflow
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	id := req.GetString("id", "")
	if id == "" {
		id = def.ID
	}
	if id == "" {
		id = uuid.New().String()
	}
	def.ID = id

	if s.validator != nil {
		if result := s.validator.Validate(&def); !result.Valid() {
			return marshalResult(map[string]any{
				"saved":  false,
				"issues": result.Errors,
			})
		}
	}

	record := &store.WorkflowRecord{
		ID:         id,
		Name:       req.GetString("name", def.Name),
		Definition: def,
	}
	if saveErr := s.store.SaveWorkflow(ctx, record); saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", saveErr)), nil
	}

	return marshalResult(map[string]any{"saved": true, "id": id})
}

// handleQuery lists workflows, executions, or events based on filters.
func (s *FlowdServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *FlowdServer) queryWorkflows(ctx context.Context) (*mcp.CallToolResult, error) {
	workflows, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *FlowdServer) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if workflowID, ok := filter["workflow_id"].(string); ok {
		ef.WorkflowID = workflowID
	}
	if status, ok := filter["status"].(string); ok {
		ef.Status = schema.ExecutionStatus(status)
	}

	executions, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *FlowdServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	executionID, ok := filter["execution_id"].(string)
	if !ok || executionID == "" {
		return mcp.NewToolResultError("event query requires 'execution_id' in filter"), nil
	}

	events, err := s.store.ListEvents(ctx, executionID, int64(extractInt(filter, "since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// executionSummary shapes the settled execution the way run/approve
// report it.
func executionSummary(exec *schema.Execution) map[string]any {
	summary := map[string]any{
		"execution_id": exec.ID,
		"status":       exec.Status,
	}
	if exec.Output != nil {
		summary["output"] = exec.Output
	}
	if exec.Error != "" {
		summary["error"] = exec.Error
	}
	if exec.PendingAuth != nil {
		summary["pending_auth"] = exec.PendingAuth
	}
	return summary
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps an execution ID to the calling MCP session so
// lifecycle notifications reach the right client.
func (s *FlowdServer) captureSession(ctx context.Context, executionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(executionID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
