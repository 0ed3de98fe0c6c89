package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowd-io/flowd/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/flowd.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, definition=excluded.definition, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, nullStr(rec.Name), string(def), timeOrNow(rec.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	rec := &WorkflowRecord{}
	var name sql.NullString
	var def string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, created_at, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&rec.ID, &name, &def, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	rec.Name = name.String
	if err := json.Unmarshal([]byte(def), &rec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, definition, created_at, updated_at FROM workflows ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*WorkflowRecord
	for rows.Next() {
		rec := &WorkflowRecord{}
		var name sql.NullString
		var def string
		if err := rows.Scan(&rec.ID, &name, &def, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Name = name.String
		if err := json.Unmarshal([]byte(def), &rec.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition %s: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	input, err := nullJSON(exec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, input, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, string(exec.Status), input, timeOrNow(exec.StartedAt),
	)
	return err
}

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, input, output, error, pending_auth, started_at, completed_at
		 FROM executions WHERE id = ?`, id,
	)
	exec, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		raw, err := json.Marshal(*update.Output)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		sets = append(sets, "output = ?")
		args = append(args, string(raw))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.PendingAuth != nil {
		raw, err := json.Marshal(update.PendingAuth)
		if err != nil {
			return fmt.Errorf("marshal pending_auth: %w", err)
		}
		sets = append(sets, "pending_auth = ?")
		args = append(args, string(raw))
	} else if update.ClearPendingAuth {
		sets = append(sets, "pending_auth = NULL")
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	query := `SELECT id, workflow_id, status, input, output, error, pending_auth, started_at, completed_at
		 FROM executions`
	var where []string
	var args []any
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(scan func(...any) error) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var input, output, errMsg, pending sql.NullString
	var completed sql.NullTime
	err := scan(&exec.ID, &exec.WorkflowID, (*string)(&exec.Status),
		&input, &output, &errMsg, &pending, &exec.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &exec.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &exec.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	exec.Error = errMsg.String
	if pending.Valid && pending.String != "" {
		pa := &schema.PendingAuth{}
		if err := json.Unmarshal([]byte(pending.String), pa); err != nil {
			return nil, fmt.Errorf("unmarshal pending_auth: %w", err)
		}
		exec.PendingAuth = pa
	}
	if completed.Valid {
		exec.CompletedAt = &completed.Time
	}
	return exec, nil
}

// --- Node results ---

func (s *LibSQLStore) UpsertNodeResult(ctx context.Context, executionID string, result *schema.NodeResult) error {
	output, err := nullJSON(result.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	toolCalls, err := nullJSON(result.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool_calls: %w", err)
	}
	pending, err := nullJSON(result.PendingAuth)
	if err != nil {
		return fmt.Errorf("marshal pending_auth: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_results
		 (execution_id, node_id, status, output, error, branch, tool_calls, pending_auth, attempts, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id, node_id) DO UPDATE SET
		   status=excluded.status, output=excluded.output, error=excluded.error,
		   branch=excluded.branch, tool_calls=excluded.tool_calls, pending_auth=excluded.pending_auth,
		   attempts=excluded.attempts, started_at=excluded.started_at, completed_at=excluded.completed_at`,
		executionID, result.NodeID, string(result.Status), output, nullStr(result.Error),
		nullStr(result.Branch), toolCalls, pending, result.Attempts,
		timeOrNow(result.StartedAt), nullTime(result.CompletedAt),
	)
	return err
}

func (s *LibSQLStore) ListNodeResults(ctx context.Context, executionID string) ([]*schema.NodeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, status, output, error, branch, tool_calls, pending_auth, attempts, started_at, completed_at
		 FROM node_results WHERE execution_id = ? ORDER BY started_at ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*schema.NodeResult
	for rows.Next() {
		r := &schema.NodeResult{}
		var output, errMsg, branch, toolCalls, pending sql.NullString
		var completed sql.NullTime
		if err := rows.Scan(&r.NodeID, (*string)(&r.Status), &output, &errMsg, &branch,
			&toolCalls, &pending, &r.Attempts, &r.StartedAt, &completed); err != nil {
			return nil, err
		}
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &r.Output); err != nil {
				return nil, fmt.Errorf("unmarshal node output: %w", err)
			}
		}
		r.Error = errMsg.String
		r.Branch = branch.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &r.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool_calls: %w", err)
			}
		}
		if pending.Valid && pending.String != "" {
			pa := &schema.PendingAuth{}
			if err := json.Unmarshal([]byte(pending.String), pa); err != nil {
				return nil, fmt.Errorf("unmarshal pending_auth: %w", err)
			}
			r.PendingAuth = pa
		}
		if completed.Valid {
			r.CompletedAt = &completed.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Event log ---

// AppendEvent assigns the next per-execution sequence inside a write
// transaction so concurrent appenders cannot interleave reads and writes.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *schema.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := nullJSON(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, sequence, event_type, node_id, payload, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, seq, event.Type, nullStr(event.NodeID), payload, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListEvents(ctx context.Context, executionID string, since int64) ([]*schema.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT execution_id, sequence, event_type, node_id, payload, timestamp
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ExecutionID, &e.Sequence, &e.Type, &nodeID, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Approvals ---

func (s *LibSQLStore) CreateApproval(ctx context.Context, ap *Approval) error {
	status := ap.Status
	if status == "" {
		status = ApprovalStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (auth_id, execution_id, node_id, tool_name, message, auth_url, status, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ap.AuthID, ap.ExecutionID, ap.NodeID, ap.ToolName, nullStr(ap.Message),
		nullStr(ap.AuthURL), status, nullTime(ap.ExpiresAt), timeOrNow(ap.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetApproval(ctx context.Context, authID string) (*Approval, error) {
	ap := &Approval{}
	var message, authURL, comment, decidedBy sql.NullString
	var approved sql.NullBool
	var decidedAt, expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT auth_id, execution_id, node_id, tool_name, message, auth_url, status,
		        approved, comment, decided_by, decided_at, expires_at, created_at
		 FROM approvals WHERE auth_id = ?`, authID,
	).Scan(&ap.AuthID, &ap.ExecutionID, &ap.NodeID, &ap.ToolName, &message, &authURL, &ap.Status,
		&approved, &comment, &decidedBy, &decidedAt, &expiresAt, &ap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("approval", authID)
	}
	if err != nil {
		return nil, err
	}
	ap.Message = message.String
	ap.AuthURL = authURL.String
	if expiresAt.Valid {
		ap.ExpiresAt = &expiresAt.Time
	}
	if approved.Valid {
		ap.Decision = &schema.ApprovalDecision{
			AuthID:    ap.AuthID,
			Approved:  approved.Bool,
			Comment:   comment.String,
			DecidedBy: decidedBy.String,
		}
		if decidedAt.Valid {
			ap.Decision.DecidedAt = decidedAt.Time
		}
	}
	return ap, nil
}

// ResolveApproval records a decision on a pending gate. Returns a
// conflict error if the gate was already resolved.
func (s *LibSQLStore) ResolveApproval(ctx context.Context, authID string, decision *schema.ApprovalDecision) error {
	status := ApprovalStatusRejected
	if decision.Approved {
		status = ApprovalStatusApproved
	}
	decidedAt := decision.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, approved = ?, comment = ?, decided_by = ?, decided_at = ?
		 WHERE auth_id = ? AND status = ?`,
		status, decision.Approved, nullStr(decision.Comment), nullStr(decision.DecidedBy),
		decidedAt, authID, ApprovalStatusPending,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetApproval(ctx, authID); getErr != nil {
			return getErr
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "approval %q already resolved", authID)
	}
	return nil
}

func (s *LibSQLStore) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT auth_id FROM approvals
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		ApprovalStatusPending, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var approvals []*Approval
	for _, id := range ids {
		ap, err := s.GetApproval(ctx, id)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, ap)
	}
	return approvals, nil
}

// --- Checkpoints ---

func (s *LibSQLStore) SaveCheckpoint(ctx context.Context, cp *schema.Checkpoint) error {
	snapshot, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (execution_id, snapshot, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET snapshot=excluded.snapshot, created_at=excluded.created_at`,
		cp.ExecutionID, string(snapshot), timeOrNow(cp.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetCheckpoint(ctx context.Context, executionID string) (*schema.Checkpoint, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE execution_id = ?`, executionID,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("checkpoint", executionID)
	}
	if err != nil {
		return nil, err
	}
	cp := &schema.Checkpoint{}
	if err := json.Unmarshal([]byte(snapshot), cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

func (s *LibSQLStore) DeleteCheckpoint(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE execution_id = ?`, executionID)
	return err
}

// --- Scheduled jobs ---

func (s *LibSQLStore) SaveScheduledJob(ctx context.Context, job *ScheduledJob) error {
	input, err := nullJSON(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, workflow_id, cron_expr, input, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   workflow_id=excluded.workflow_id, cron_expr=excluded.cron_expr,
		   input=excluded.input, enabled=excluded.enabled`,
		job.ID, job.WorkflowID, job.CronExpr, input, job.Enabled, timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, enabledOnly bool) ([]*ScheduledJob, error) {
	query := `SELECT id, workflow_id, cron_expr, input, enabled, last_run_at, created_at FROM scheduled_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var input sql.NullString
		var lastRun sql.NullTime
		if err := rows.Scan(&job.ID, &job.WorkflowID, &job.CronExpr, &input, &job.Enabled, &lastRun, &job.CreatedAt); err != nil {
			return nil, err
		}
		if input.Valid && input.String != "" {
			if err := json.Unmarshal([]byte(input.String), &job.Input); err != nil {
				return nil, fmt.Errorf("unmarshal job input: %w", err)
			}
		}
		if lastRun.Valid {
			job.LastRunAt = &lastRun.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) MarkScheduledJobRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run_at = ? WHERE id = ?`, at, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullJSON marshals v for storage, mapping empty values to NULL.
func nullJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	case []schema.ToolCallRecord:
		if len(val) == 0 {
			return nil, nil
		}
	case *schema.PendingAuth:
		if val == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
