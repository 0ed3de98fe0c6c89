package schema

import "time"

// ApprovalDecision records the outcome of a user-approval gate.
type ApprovalDecision struct {
	AuthID    string    `json:"auth_id"`
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"` // empty for timeout rejections
	DecidedAt time.Time `json:"decided_at"`
}

// Branch returns the edge label the decision routes to.
func (d *ApprovalDecision) Branch() string {
	if d.Approved {
		return BranchApprove
	}
	return BranchReject
}

// Checkpoint is the durable snapshot taken when a run suspends at an
// approval gate. It holds everything Resume needs to continue the walk
// without the original goroutine.
type Checkpoint struct {
	ExecutionID string                `json:"execution_id"`
	WorkflowID  string                `json:"workflow_id"`
	NodeID      string                `json:"node_id"`
	AuthID      string                `json:"auth_id"`
	Input       map[string]any        `json:"input,omitempty"`
	State       map[string]any        `json:"state,omitempty"`
	Outputs     map[string]any        `json:"outputs,omitempty"`
	LastOutput  any                   `json:"last_output,omitempty"`
	Iterations  map[string]int        `json:"iterations,omitempty"`
	Iteration   int                   `json:"iteration,omitempty"`
	NodeStatus  map[string]NodeStatus `json:"node_status,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}
