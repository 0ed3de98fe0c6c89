package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/internal/graph"
	"github.com/flowd-io/flowd/internal/handlers"
	"github.com/flowd-io/flowd/internal/logging"
	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// DefaultPoolSize is the default bound on concurrently running handlers.
const DefaultPoolSize = 10

// Config holds engine tuning knobs.
type Config struct {
	PoolSize int
}

// Engine walks workflow graphs: it dispatches node handlers over a
// bounded pool, records results and events, suspends on approval gates
// and resumes from checkpoints. One Engine serves all executions.
type Engine struct {
	store    store.Store
	recorder *store.Recorder
	handlers *handlers.Registry
	pool     *WorkerPool
	logger   *slog.Logger

	// mu guards running. The map doubles as an idempotency latch:
	// an execution present here is never started a second time.
	mu      sync.Mutex
	running map[string]*run
}

// NewEngine wires an engine from its collaborators.
func NewEngine(s store.Store, rec *store.Recorder, reg *handlers.Registry, cfg Config, logger *slog.Logger) *Engine {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    s,
		recorder: rec,
		handlers: reg,
		pool:     NewWorkerPool(cfg.PoolSize),
		logger:   logger,
		running:  make(map[string]*run),
	}
}

// Shutdown stops the worker pool after in-flight handlers finish.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
}

// Execute runs a workflow to a settled state: completed, failed,
// cancelled, or waiting_auth when a gate suspends it. The returned
// execution reflects that settled state.
func (e *Engine) Execute(ctx context.Context, wf *store.WorkflowRecord, input map[string]any) (*schema.Execution, error) {
	return e.ExecuteAs(ctx, wf, input, uuid.New().String())
}

// ExecuteAs runs with a caller-assigned execution id, so callers can
// subscribe to the event stream before the first event fires.
func (e *Engine) ExecuteAs(ctx context.Context, wf *store.WorkflowRecord, input map[string]any, executionID string) (*schema.Execution, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	g, err := graph.Build(&wf.Definition)
	if err != nil {
		return nil, err
	}

	exec := &schema.Execution{
		ID:         executionID,
		WorkflowID: wf.ID,
		Status:     schema.ExecutionStatusPending,
		Input:      input,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "create execution").WithCause(err)
	}

	ctx = logging.WithIDs(ctx, wf.ID, exec.ID, "")
	r := &run{
		executionID: exec.ID,
		workflowID:  wf.ID,
		graph:       g,
		scope:       expressions.NewScope(input),
		status:      schema.ExecutionStatusPending,
		nodeStatus:  make(map[string]schema.NodeStatus),
		results:     make(map[string]*schema.NodeResult),
	}
	if err := e.register(r); err != nil {
		return nil, err
	}
	defer e.unregister(r)

	if err := e.transitionExecution(ctx, r, schema.ExecutionStatusRunning,
		map[string]any{"input": input}, store.ExecutionUpdate{}); err != nil {
		return nil, err
	}

	e.walk(ctx, r, []*schema.Node{g.Start()})
	return e.finalize(ctx, r)
}

// Resume continues a waiting_auth execution from its checkpoint,
// injecting the approval decision into the suspended node. Resuming an
// execution that is terminal, not suspended, or already running is a
// no-op returning the current state.
func (e *Engine) Resume(ctx context.Context, executionID string, decision *schema.ApprovalDecision) (*schema.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != schema.ExecutionStatusWaitingAuth {
		return exec, nil
	}

	cp, err := e.store.GetCheckpoint(ctx, executionID)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "load checkpoint").WithCause(err)
	}
	wf, err := e.store.GetWorkflow(ctx, cp.WorkflowID)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(&wf.Definition)
	if err != nil {
		return nil, err
	}
	node, ok := g.Node(cp.NodeID)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "checkpoint node %q not in workflow", cp.NodeID)
	}

	nodeStatus := cp.NodeStatus
	if nodeStatus == nil {
		nodeStatus = make(map[string]schema.NodeStatus)
	}
	ctx = logging.WithIDs(ctx, wf.ID, executionID, "")
	r := &run{
		executionID: executionID,
		workflowID:  wf.ID,
		graph:       g,
		scope: expressions.RestoreScope(expressions.Snapshot{
			Input:      cp.Input,
			State:      cp.State,
			Outputs:    cp.Outputs,
			LastOutput: cp.LastOutput,
			Iterations: cp.Iterations,
			Iteration:  cp.Iteration,
		}),
		status:       schema.ExecutionStatusWaitingAuth,
		nodeStatus:   nodeStatus,
		results:      make(map[string]*schema.NodeResult),
		decision:     decision,
		decisionNode: cp.NodeID,
	}
	if err := e.register(r); err != nil {
		// A concurrent Resume won the latch; report the current state.
		return e.store.GetExecution(ctx, executionID)
	}
	defer e.unregister(r)

	resumePayload := map[string]any{"auth_id": cp.AuthID}
	if decision != nil {
		resumePayload["approved"] = decision.Approved
		resumePayload["decided_by"] = decision.DecidedBy
	}
	if err := e.transitionExecution(ctx, r, schema.ExecutionStatusRunning,
		resumePayload, store.ExecutionUpdate{ClearPendingAuth: true}); err != nil {
		return nil, err
	}
	if err := e.store.DeleteCheckpoint(ctx, executionID); err != nil {
		e.logger.WarnContext(ctx, "delete checkpoint failed", "error", err)
	}

	e.walk(ctx, r, []*schema.Node{node})
	return e.finalize(ctx, r)
}

// Cancel requests a stop. For an in-flight execution the flag is
// advisory: the current handler finishes and no further nodes dispatch.
// A suspended or pending execution is marked cancelled directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, active := e.running[executionID]
	e.mu.Unlock()
	if active {
		r.stop.Store(true)
		return nil
	}

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if !validExecutionTransition(exec.Status, schema.ExecutionStatusCancelled) {
		return schema.NewErrorf(schema.ErrCodeConflict, "cannot cancel execution in status %s", exec.Status)
	}

	now := time.Now().UTC()
	cancelled := schema.ExecutionStatusCancelled
	errMsg := "execution cancelled"
	if err := e.store.UpdateExecution(ctx, executionID, store.ExecutionUpdate{
		Status:           &cancelled,
		Error:            &errMsg,
		ClearPendingAuth: true,
		CompletedAt:      &now,
	}); err != nil {
		return schema.NewError(schema.ErrCodeStore, "update execution").WithCause(err)
	}
	_ = e.store.DeleteCheckpoint(ctx, executionID)
	e.record(ctx, exec.WorkflowID, &schema.Event{
		ExecutionID: executionID,
		Type:        schema.EventWorkflowCancelled,
	})
	return nil
}

// register installs the run in the running map; fails if already present.
func (e *Engine) register(r *run) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.running[r.executionID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already running", r.executionID)
	}
	e.running[r.executionID] = r
	return nil
}

func (e *Engine) unregister(r *run) {
	e.mu.Lock()
	delete(e.running, r.executionID)
	e.mu.Unlock()
}

// transitionExecution validates the status change, persists it and
// emits the matching lifecycle event.
func (e *Engine) transitionExecution(ctx context.Context, r *run, to schema.ExecutionStatus, payload map[string]any, update store.ExecutionUpdate) error {
	if !validExecutionTransition(r.status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", r.status, to)
	}
	update.Status = &to
	if err := e.store.UpdateExecution(ctx, r.executionID, update); err != nil {
		return schema.NewError(schema.ErrCodeStore, "update execution").WithCause(err)
	}
	if eventType := executionEventType(r.status, to); eventType != "" {
		e.record(ctx, r.workflowID, &schema.Event{
			ExecutionID: r.executionID,
			Type:        eventType,
			Payload:     payload,
		})
	}
	r.status = to
	return nil
}

// record appends to the event log and stream; failures are logged, not
// propagated, so observability problems cannot fail a run.
func (e *Engine) record(ctx context.Context, workflowID string, event *schema.Event) {
	if err := e.recorder.Record(ctx, workflowID, event); err != nil {
		e.logger.ErrorContext(ctx, "record event failed",
			"event_type", event.Type, "error", err)
	}
}
