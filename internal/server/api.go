package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-io/flowd/internal/diagram"
	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// --- Workflows ---

// handleSaveWorkflow validates and upserts a workflow definition.
func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Definition schema.Workflow `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}
	body.Definition.ID = body.ID
	if body.Name == "" {
		body.Name = body.Definition.Name
	}

	if s.deps.Validator != nil {
		if result := s.deps.Validator.Validate(&body.Definition); !result.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"error":   "workflow definition is invalid",
				"issues":  result.Errors,
			})
			return
		}
	}

	record := &store.WorkflowRecord{
		ID:         body.ID,
		Name:       body.Name,
		Definition: body.Definition,
	}
	if err := s.deps.Store.SaveWorkflow(ctx, record); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": body.ID})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.ListWorkflows(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "workflows": records})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	record, err := s.deps.Store.GetWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "workflow": record})
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteWorkflow(r.Context(), r.PathValue("id")); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleWorkflowDiagram renders the workflow as a Mermaid flowchart.
// With ?executionId= the nodes carry that execution's statuses.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := s.deps.Store.GetWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	var results []*schema.NodeResult
	if execID := r.URL.Query().Get("executionId"); execID != "" {
		results, err = s.deps.Store.ListNodeResults(ctx, execID)
		if err != nil {
			writeFlowError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diagram.RenderMermaid(diagram.Build(&record.Definition, results))))
}

// --- Execution ---

type executeRequest struct {
	Input map[string]any `json:"input"`
}

// handleExecute runs the workflow and blocks until it settles:
// terminal, or parked at an approval gate.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := s.deps.Store.GetWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	var body executeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	// Detach the run from the poll connection: a client that gives up
	// waiting must not cancel the execution. Cancel stays an explicit
	// API action, matching execute-stream.
	runCtx, cancelRun := context.WithTimeout(context.Background(), maxRunDuration)
	defer cancelRun()
	exec, err := s.deps.Engine.Execute(runCtx, record, body.Input)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	s.writeExecutionResult(w, r, exec)
}

// writeExecutionResult renders the settled execution plus its node
// results in the shape the builder polls on.
func (s *Server) writeExecutionResult(w http.ResponseWriter, r *http.Request, exec *schema.Execution) {
	results, err := s.deps.Store.ListNodeResults(r.Context(), exec.ID)
	if err != nil {
		s.deps.Logger.WarnContext(r.Context(), "list node results failed",
			"execution_id", exec.ID, "error", err)
	}

	resp := map[string]any{
		"success":     exec.Status == schema.ExecutionStatusCompleted || exec.Status == schema.ExecutionStatusWaitingAuth,
		"executionId": exec.ID,
		"status":      exec.Status,
		"nodeResults": results,
	}
	if exec.Output != nil {
		resp["output"] = exec.Output
	}
	if exec.Error != "" {
		resp["error"] = exec.Error
	}
	if exec.PendingAuth != nil {
		resp["pendingAuth"] = exec.PendingAuth
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflowId"),
		Status:     schema.ExecutionStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit", 50),
	}
	execs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executions": execs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	exec, err := s.deps.Store.GetExecution(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	results, err := s.deps.Store.ListNodeResults(ctx, exec.ID)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"execution":   exec,
		"nodeResults": results,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.ListEvents(r.Context(), r.PathValue("id"), queryInt64(r, "since", 0))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")
	if err := s.deps.Engine.Cancel(r.Context(), executionID); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "executionId": executionID})
}

// --- Approvals ---

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	approval, err := s.deps.Store.GetApproval(r.Context(), r.PathValue("approvalId"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "approval": approval})
}

// handleResolveApproval records the decision and kicks the resume in
// the background; the caller polls the execution for the outcome.
func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authID := r.PathValue("approvalId")

	var body struct {
		Action  string `json:"action"`
		UserID  string `json:"userId"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Action != "approve" && body.Action != "reject" {
		writeError(w, http.StatusBadRequest, `action must be "approve" or "reject"`)
		return
	}

	approval, err := s.deps.Store.GetApproval(ctx, authID)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	decision := &schema.ApprovalDecision{
		AuthID:    authID,
		Approved:  body.Action == "approve",
		Comment:   body.Comment,
		DecidedBy: body.UserID,
		DecidedAt: time.Now().UTC(),
	}
	if err := s.deps.Store.ResolveApproval(ctx, authID, decision); err != nil {
		writeFlowError(w, err)
		return
	}

	// The resume outlives this request.
	go func() {
		resumeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.deps.Engine.Resume(resumeCtx, approval.ExecutionID, decision); err != nil {
			s.deps.Logger.Error("resume after approval failed",
				"execution_id", approval.ExecutionID, "auth_id", authID, "error", err)
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"executionId": approval.ExecutionID,
		"approved":    decision.Approved,
	})
}

// --- Scheduled jobs ---

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		WorkflowID string         `json:"workflowId"`
		CronExpr   string         `json:"cron"`
		Input      map[string]any `json:"input"`
		Enabled    *bool          `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.WorkflowID == "" || body.CronExpr == "" {
		writeError(w, http.StatusBadRequest, "workflowId and cron are required")
		return
	}
	if _, err := s.deps.Store.GetWorkflow(ctx, body.WorkflowID); err != nil {
		writeFlowError(w, err)
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	job := &store.ScheduledJob{
		ID:         uuid.New().String(),
		WorkflowID: body.WorkflowID,
		CronExpr:   body.CronExpr,
		Input:      body.Input,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.deps.Store.SaveScheduledJob(ctx, job); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": job.ID})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Store.ListScheduledJobs(r.Context(), false)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "schedules": jobs})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteScheduledJob(r.Context(), r.PathValue("id")); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
