package schema

import "time"

// Event type constants for the append-only execution log.
const (
	EventWorkflowStarted     = "workflow_started"
	EventWorkflowCompleted   = "workflow_completed"
	EventWorkflowFailed      = "workflow_failed"
	EventWorkflowCancelled   = "workflow_cancelled"
	EventWorkflowWaitingAuth = "workflow_waiting_auth"
	EventWorkflowResumed     = "workflow_resumed"

	EventNodeStarted     = "node_started"
	EventNodeCompleted   = "node_completed"
	EventNodeFailed      = "node_failed"
	EventNodeSkipped     = "node_skipped"
	EventNodeRetrying    = "node_retrying"
	EventNodePendingAuth = "node_pending_auth"

	EventBranchEvaluated = "branch_evaluated"
	EventLoopIteration   = "loop_iteration"
	EventStateSet        = "state_set"
)

// ExecutionStatus represents the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionStatusPending     ExecutionStatus = "pending"
	ExecutionStatusRunning     ExecutionStatus = "running"
	ExecutionStatusWaitingAuth ExecutionStatus = "waiting_auth"
	ExecutionStatusCompleted   ExecutionStatus = "completed"
	ExecutionStatusFailed      ExecutionStatus = "failed"
	ExecutionStatusCancelled   ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus represents the lifecycle state of a node within a run.
type NodeStatus string

const (
	NodeStatusPending     NodeStatus = "pending"
	NodeStatusRunning     NodeStatus = "running"
	NodeStatusCompleted   NodeStatus = "completed"
	NodeStatusFailed      NodeStatus = "failed"
	NodeStatusSkipped     NodeStatus = "skipped"
	NodeStatusPendingAuth NodeStatus = "pending_auth"
)

// Event is one entry in an execution's ordered event stream. Sequence
// is assigned by the store and is strictly increasing per execution.
type Event struct {
	ExecutionID string         `json:"execution_id"`
	Sequence    int64          `json:"sequence"`
	Type        string         `json:"type"`
	NodeID      string         `json:"node_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// PendingAuth describes a waiting approval gate, surfaced in
// node_pending_auth events and on the approval API.
type PendingAuth struct {
	AuthID    string    `json:"auth_id"`
	NodeID    string    `json:"node_id"`
	ToolName  string    `json:"tool_name"`
	Message   string    `json:"message"`
	AuthURL   string    `json:"auth_url,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
