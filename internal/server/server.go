// Package server exposes the engine over HTTP: workflow CRUD,
// blocking and streaming execution, approval resolution, scheduled
// jobs, and SSE event feeds.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/cors"

	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/internal/streaming"
	"github.com/flowd-io/flowd/internal/validation"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Engine is the execution surface the API depends on. Satisfied by
// *engine.Engine.
type Engine interface {
	Execute(ctx context.Context, wf *store.WorkflowRecord, input map[string]any) (*schema.Execution, error)
	ExecuteAs(ctx context.Context, wf *store.WorkflowRecord, input map[string]any, executionID string) (*schema.Execution, error)
	Resume(ctx context.Context, executionID string, decision *schema.ApprovalDecision) (*schema.Execution, error)
	Cancel(ctx context.Context, executionID string) error
}

// Deps holds the server's collaborators.
type Deps struct {
	Store     store.Store
	Engine    Engine
	Hub       streaming.EventHub
	Validator *validation.WorkflowValidator
	Logger    *slog.Logger
}

// Server is the HTTP API. Construct with NewServer, mount Handler.
type Server struct {
	deps Deps
}

// NewServer builds the API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

// Handler returns the routed handler with CORS applied. The builder
// frontend runs on a different origin during development, so the
// permissive defaults are intentional.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Workflow definitions.
	mux.HandleFunc("POST /api/workflows", s.handleSaveWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)

	// Execution.
	mux.HandleFunc("POST /api/workflows/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /api/workflows/{id}/execute-stream", s.handleExecuteStream)
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleListEvents)
	mux.HandleFunc("GET /api/executions/{id}/stream", s.handleExecutionStream)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancel)

	// Approvals.
	mux.HandleFunc("GET /api/approval/{approvalId}", s.handleGetApproval)
	mux.HandleFunc("POST /api/approval/{approvalId}", s.handleResolveApproval)

	// Scheduled jobs.
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
