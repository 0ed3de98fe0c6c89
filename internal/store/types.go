package store

import (
	"time"

	"github.com/flowd-io/flowd/pkg/schema"
)

// WorkflowRecord is a stored workflow definition. The definition is
// validated before it is saved and treated as immutable by the engine.
type WorkflowRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Definition schema.Workflow `json:"definition"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ExecutionUpdate carries the mutable fields of an execution row.
// Nil pointers leave the column untouched.
type ExecutionUpdate struct {
	Status           *schema.ExecutionStatus
	Output           *any
	Error            *string
	PendingAuth      *schema.PendingAuth
	ClearPendingAuth bool
	CompletedAt      *time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	Limit      int
}

// Approval statuses.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Approval is a persisted user-approval gate, keyed by the auth id
// handed out when the execution suspended.
type Approval struct {
	AuthID      string                   `json:"auth_id"`
	ExecutionID string                   `json:"execution_id"`
	NodeID      string                   `json:"node_id"`
	ToolName    string                   `json:"tool_name"`
	Message     string                   `json:"message,omitempty"`
	AuthURL     string                   `json:"auth_url,omitempty"`
	Status      string                   `json:"status"`
	Decision    *schema.ApprovalDecision `json:"decision,omitempty"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
}

// ScheduledJob triggers a workflow on a cron expression.
type ScheduledJob struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	CronExpr   string         `json:"cron_expr"`
	Input      map[string]any `json:"input,omitempty"`
	Enabled    bool           `json:"enabled"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
