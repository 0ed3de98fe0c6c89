package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowd-io/flowd/internal/expressions"
	"github.com/flowd-io/flowd/internal/graph"
	"github.com/flowd-io/flowd/internal/handlers"
	"github.com/flowd-io/flowd/internal/logging"
	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// run is the in-memory state of one active walk. Handlers execute
// concurrently within a wave; everything on run is mutated only under
// mu, which also serializes event emission so per-node ordering
// (started strictly before completed/failed) holds.
type run struct {
	executionID string
	workflowID  string
	graph       *graph.Graph
	scope       *expressions.Scope

	// decision is consumed by the first dispatch of decisionNode after
	// a resume, then cleared so a loop revisiting the gate suspends again.
	decision     *schema.ApprovalDecision
	decisionNode string

	stop atomic.Bool

	mu          sync.Mutex
	status      schema.ExecutionStatus
	nodeStatus  map[string]schema.NodeStatus
	results     map[string]*schema.NodeResult
	output      any
	ended       bool
	failure     error
	pending     *schema.PendingAuth
	pendingNode string
}

// halted reports whether the walk should dispatch no further nodes.
func (r *run) halted() bool {
	if r.stop.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended || r.failure != nil || r.pending != nil
}

// walk drives the frontier until it empties or the run halts. Each wave
// dispatches its nodes concurrently over the pool and gathers the
// successor frontier from their results.
func (e *Engine) walk(ctx context.Context, r *run, frontier []*schema.Node) {
	for len(frontier) > 0 && !r.halted() {
		frontier = e.runWave(ctx, r, frontier)
	}
}

func (e *Engine) runWave(ctx context.Context, r *run, wave []*schema.Node) []*schema.Node {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		next []*schema.Node
	)

	for _, node := range dedupeNodes(wave) {
		if r.halted() {
			break
		}
		node := node
		wg.Add(1)
		err := e.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			successors := e.executeNode(ctx, r, node)
			if len(successors) > 0 {
				mu.Lock()
				next = append(next, successors...)
				mu.Unlock()
			}
			return nil
		})
		if err != nil {
			wg.Done()
			r.mu.Lock()
			if r.failure == nil {
				r.failure = schema.NewError(schema.ErrCodeExecution, "dispatch node").WithNode(node.ID).WithCause(err)
			}
			r.mu.Unlock()
			break
		}
	}

	wg.Wait()
	return next
}

// executeNode runs one node end to end: status bookkeeping, handler
// dispatch, result persistence, event emission. It returns the
// successor frontier contributed by this node.
func (e *Engine) executeNode(ctx context.Context, r *run, node *schema.Node) []*schema.Node {
	ctx = logging.WithNodeID(ctx, node.ID)
	started := time.Now().UTC()

	r.mu.Lock()
	prev := r.nodeStatus[node.ID]
	if prev == "" {
		prev = schema.NodeStatusPending
	}
	if !validNodeTransition(prev, schema.NodeStatusRunning) {
		r.mu.Unlock()
		e.logger.WarnContext(ctx, "node not dispatchable", "from", prev)
		return nil
	}
	r.nodeStatus[node.ID] = schema.NodeStatusRunning
	result := &schema.NodeResult{
		NodeID:    node.ID,
		Status:    schema.NodeStatusRunning,
		StartedAt: started,
	}
	r.results[node.ID] = result
	e.persistNodeResult(ctx, r, result)
	e.emit(ctx, r, nodeEventType(result.Status), node.ID, map[string]any{"node_type": string(node.Type)})

	req := &handlers.Request{Node: *node, Scope: r.scope}
	if r.decisionNode == node.ID && r.decision != nil {
		req.Decision = r.decision
		r.decision = nil
		r.decisionNode = ""
	}
	r.mu.Unlock()

	handler, err := e.handlers.Get(node.Type)
	var res *handlers.Result
	if err == nil {
		res, err = handler.Execute(ctx, req)
	}
	completed := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	result.CompletedAt = &completed

	if err != nil {
		return e.recordFailure(ctx, r, node, result, err)
	}
	if res.PendingAuth != nil {
		return e.recordSuspension(ctx, r, node, result, res.PendingAuth)
	}
	return e.recordSuccess(ctx, r, node, result, res)
}

// recordFailure marks the node failed and either aborts the walk or,
// under a continue policy, lets traversal proceed along unlabeled edges.
// Called with r.mu held.
func (e *Engine) recordFailure(ctx context.Context, r *run, node *schema.Node, result *schema.NodeResult, err error) []*schema.Node {
	result.Status = schema.NodeStatusFailed
	result.Error = err.Error()
	r.nodeStatus[node.ID] = schema.NodeStatusFailed
	e.persistNodeResult(ctx, r, result)
	e.emit(ctx, r, nodeEventType(result.Status), node.ID, map[string]any{"error": err.Error()})

	if failurePolicy(node) == schema.FailureContinue && !node.Type.IsBranching() {
		e.logger.WarnContext(ctx, "node failed, continuing", "error", err)
		return r.graph.Successors(node.ID, "")
	}

	if r.failure == nil {
		r.failure = err
	}
	return nil
}

// recordSuspension parks the run at an approval gate. The walk halts
// once in-flight siblings finish; finalize persists the checkpoint.
// Called with r.mu held.
func (e *Engine) recordSuspension(ctx context.Context, r *run, node *schema.Node, result *schema.NodeResult, pending *schema.PendingAuth) []*schema.Node {
	result.Status = schema.NodeStatusPendingAuth
	result.PendingAuth = pending
	r.nodeStatus[node.ID] = schema.NodeStatusPendingAuth
	if r.pending == nil {
		r.pending = pending
		r.pendingNode = node.ID
	}
	e.persistNodeResult(ctx, r, result)
	e.emit(ctx, r, nodeEventType(result.Status), node.ID, map[string]any{
		"auth_id":   pending.AuthID,
		"tool_name": pending.ToolName,
		"message":   pending.Message,
		"auth_url":  pending.AuthURL,
	})
	return nil
}

// recordSuccess records the node's output in scope and store, emits the
// completion events, and resolves the successor frontier. Called with
// r.mu held.
func (e *Engine) recordSuccess(ctx context.Context, r *run, node *schema.Node, result *schema.NodeResult, res *handlers.Result) []*schema.Node {
	result.Status = schema.NodeStatusCompleted
	result.Output = res.Output
	result.Branch = res.Branch
	result.ToolCalls = res.ToolCalls
	result.Attempts = res.Attempts
	r.nodeStatus[node.ID] = schema.NodeStatusCompleted
	r.scope.SetOutput(node.ID, res.Output)
	e.persistNodeResult(ctx, r, result)

	payload := map[string]any{"output": res.Output}
	if res.Branch != "" {
		payload["branch"] = res.Branch
	}
	e.emit(ctx, r, nodeEventType(result.Status), node.ID, payload)

	switch node.Type {
	case schema.NodeTypeIfElse:
		e.emit(ctx, r, schema.EventBranchEvaluated, node.ID, map[string]any{"branch": res.Branch})
	case schema.NodeTypeWhile:
		loopPayload := map[string]any{"branch": res.Branch}
		if out, ok := res.Output.(map[string]any); ok {
			loopPayload["iteration"] = out["iteration"]
			loopPayload["capped"] = out["capped"]
		}
		e.emit(ctx, r, schema.EventLoopIteration, node.ID, loopPayload)
	case schema.NodeTypeSetState:
		if out, ok := res.Output.(map[string]any); ok {
			e.emit(ctx, r, schema.EventStateSet, node.ID, map[string]any{
				"key":   out["key"],
				"value": out["value"],
			})
		}
	}

	if node.Type == schema.NodeTypeEnd {
		r.output = res.Output
		r.ended = true
		return nil
	}
	return r.graph.Successors(node.ID, res.Branch)
}

// finalize settles the execution record once the walk stops. It either
// persists a checkpoint for a suspended run, or writes a terminal
// status, then returns the stored execution.
func (e *Engine) finalize(ctx context.Context, r *run) (*schema.Execution, error) {
	r.mu.Lock()
	pending := r.pending
	pendingNode := r.pendingNode
	failure := r.failure
	ended := r.ended
	output := r.output
	nodeStatus := make(map[string]schema.NodeStatus, len(r.nodeStatus))
	for k, v := range r.nodeStatus {
		nodeStatus[k] = v
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	switch {
	case pending != nil:
		if err := e.suspend(ctx, r, pending, pendingNode, nodeStatus, now); err != nil {
			return nil, err
		}

	case failure != nil:
		errMsg := failure.Error()
		if err := e.transitionExecution(ctx, r, schema.ExecutionStatusFailed,
			map[string]any{"error": errMsg},
			store.ExecutionUpdate{Error: &errMsg, CompletedAt: &now}); err != nil {
			return nil, err
		}

	case r.stop.Load() && !ended:
		errMsg := "execution cancelled"
		if err := e.transitionExecution(ctx, r, schema.ExecutionStatusCancelled,
			nil, store.ExecutionUpdate{Error: &errMsg, CompletedAt: &now}); err != nil {
			return nil, err
		}

	default:
		if err := e.transitionExecution(ctx, r, schema.ExecutionStatusCompleted,
			map[string]any{"output": output},
			store.ExecutionUpdate{Output: &output, CompletedAt: &now}); err != nil {
			return nil, err
		}
	}

	return e.store.GetExecution(ctx, r.executionID)
}

// suspend persists the checkpoint and approval record, then moves the
// execution to waiting_auth. After this returns, no goroutine belongs
// to the run; Resume rebuilds everything from the checkpoint.
func (e *Engine) suspend(ctx context.Context, r *run, pending *schema.PendingAuth, nodeID string, nodeStatus map[string]schema.NodeStatus, now time.Time) error {
	snap := r.scope.Snapshot()
	cp := &schema.Checkpoint{
		ExecutionID: r.executionID,
		WorkflowID:  r.workflowID,
		NodeID:      nodeID,
		AuthID:      pending.AuthID,
		Input:       snap.Input,
		State:       snap.State,
		Outputs:     snap.Outputs,
		LastOutput:  snap.LastOutput,
		Iterations:  snap.Iterations,
		Iteration:   snap.Iteration,
		NodeStatus:  nodeStatus,
		CreatedAt:   now,
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return schema.NewError(schema.ErrCodeStore, "save checkpoint").WithCause(err)
	}

	approval := &store.Approval{
		AuthID:      pending.AuthID,
		ExecutionID: r.executionID,
		NodeID:      nodeID,
		ToolName:    pending.ToolName,
		Message:     pending.Message,
		AuthURL:     pending.AuthURL,
		Status:      store.ApprovalStatusPending,
		CreatedAt:   now,
	}
	if !pending.ExpiresAt.IsZero() {
		expires := pending.ExpiresAt
		approval.ExpiresAt = &expires
	}
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		return schema.NewError(schema.ErrCodeStore, "create approval").WithCause(err)
	}

	return e.transitionExecution(ctx, r, schema.ExecutionStatusWaitingAuth,
		map[string]any{
			"auth_id":   pending.AuthID,
			"node_id":   nodeID,
			"tool_name": pending.ToolName,
			"message":   pending.Message,
		},
		store.ExecutionUpdate{PendingAuth: pending})
}

// persistNodeResult upserts the node row; persistence failures are
// logged rather than failing the node.
func (e *Engine) persistNodeResult(ctx context.Context, r *run, result *schema.NodeResult) {
	if err := e.store.UpsertNodeResult(ctx, r.executionID, result); err != nil {
		e.logger.ErrorContext(ctx, "persist node result failed",
			"node_id", result.NodeID, "error", err)
	}
}

// emit records one event attributed to a node.
func (e *Engine) emit(ctx context.Context, r *run, eventType, nodeID string, payload map[string]any) {
	e.record(ctx, r.workflowID, &schema.Event{
		ExecutionID: r.executionID,
		Type:        eventType,
		NodeID:      nodeID,
		Payload:     payload,
	})
}

// failurePolicy reads the node's onFailure setting; only external-call
// node kinds carry one, everything else aborts.
func failurePolicy(node *schema.Node) schema.FailurePolicy {
	if len(node.Data) == 0 {
		return schema.FailureAbort
	}
	var data struct {
		OnFailure schema.FailurePolicy `json:"onFailure"`
	}
	if err := json.Unmarshal(node.Data, &data); err != nil {
		return schema.FailureAbort
	}
	if data.OnFailure == schema.FailureContinue {
		return schema.FailureContinue
	}
	return schema.FailureAbort
}

func dedupeNodes(nodes []*schema.Node) []*schema.Node {
	if len(nodes) < 2 {
		return nodes
	}
	seen := make(map[string]struct{}, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}
