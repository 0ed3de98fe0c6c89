package store

import (
	"context"
	"time"

	"github.com/flowd-io/flowd/pkg/schema"
)

// Store is the persistence boundary. All engine and server state goes
// through it: workflow definitions, execution records, the per-execution
// event log, approval gates, suspension checkpoints, scheduled jobs and
// encrypted secrets.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error
	GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error)
	ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Executions
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Node results
	UpsertNodeResult(ctx context.Context, executionID string, result *schema.NodeResult) error
	ListNodeResults(ctx context.Context, executionID string) ([]*schema.NodeResult, error)

	// Event log. AppendEvent assigns the next per-execution sequence;
	// ListEvents returns events with sequence > since, ascending.
	AppendEvent(ctx context.Context, event *schema.Event) error
	ListEvents(ctx context.Context, executionID string, since int64) ([]*schema.Event, error)

	// Approvals
	CreateApproval(ctx context.Context, ap *Approval) error
	GetApproval(ctx context.Context, authID string) (*Approval, error)
	ResolveApproval(ctx context.Context, authID string, decision *schema.ApprovalDecision) error
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]*Approval, error)

	// Checkpoints, one per suspended execution.
	SaveCheckpoint(ctx context.Context, cp *schema.Checkpoint) error
	GetCheckpoint(ctx context.Context, executionID string) (*schema.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, executionID string) error

	// Scheduled jobs
	SaveScheduledJob(ctx context.Context, job *ScheduledJob) error
	ListScheduledJobs(ctx context.Context, enabledOnly bool) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error
	MarkScheduledJobRun(ctx context.Context, id string, at time.Time) error

	// Secrets, encrypted by the vault before they reach the store.
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
