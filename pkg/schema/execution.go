package schema

import "time"

// Execution is one run of a workflow. Created when the run starts,
// mutated only by the engine, immutable once terminal.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      any             `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	PendingAuth *PendingAuth    `json:"pending_auth,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NodeResult is the per-node record within one execution. A node that
// re-executes inside a loop body overwrites its previous record.
type NodeResult struct {
	NodeID      string           `json:"node_id"`
	Status      NodeStatus       `json:"status"`
	Output      any              `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	Branch      string           `json:"branch,omitempty"`
	ToolCalls   []ToolCallRecord `json:"tool_calls,omitempty"`
	PendingAuth *PendingAuth     `json:"pending_auth,omitempty"`
	Attempts    int              `json:"attempts,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ToolCallRecord captures one tool invocation made by an agent node.
type ToolCallRecord struct {
	ID        string `json:"id,omitempty"`
	Server    string `json:"server,omitempty"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}
