package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// fakeRunner records engine calls and signals on each one.
type fakeRunner struct {
	mu       sync.Mutex
	executed []string
	resumed  []string
	decision *schema.ApprovalDecision
	signal   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{signal: make(chan struct{}, 8)}
}

func (f *fakeRunner) Execute(_ context.Context, wf *store.WorkflowRecord, _ map[string]any) (*schema.Execution, error) {
	f.mu.Lock()
	f.executed = append(f.executed, wf.ID)
	f.mu.Unlock()
	f.signal <- struct{}{}
	return &schema.Execution{ID: "exec-" + wf.ID, WorkflowID: wf.ID, Status: schema.ExecutionStatusCompleted}, nil
}

func (f *fakeRunner) Resume(_ context.Context, executionID string, decision *schema.ApprovalDecision) (*schema.Execution, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, executionID)
	f.decision = decision
	f.mu.Unlock()
	f.signal <- struct{}{}
	return &schema.Execution{ID: executionID, Status: schema.ExecutionStatusCompleted}, nil
}

func (f *fakeRunner) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeRunner) waitSignal(t *testing.T) {
	t.Helper()
	select {
	case <-f.signal:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runner call")
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *fakeRunner) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "scheduler_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	runner := newFakeRunner()
	return NewScheduler(s, runner, slog.New(slog.DiscardHandler)), s, runner
}

func seedWorkflow(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.SaveWorkflow(context.Background(), &store.WorkflowRecord{
		ID: id, Name: id,
		Definition: schema.Workflow{
			ID: id,
			Nodes: []schema.Node{
				{ID: "start", Type: schema.NodeTypeStart},
				{ID: "end", Type: schema.NodeTypeEnd},
			},
			Edges: []schema.Edge{{Source: "start", Target: "end"}},
		},
	}))
}

// --- Due calculation ---

func TestDue(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	now := time.Now().UTC()
	past := now.Add(-2 * time.Hour)

	everyMinute := &store.ScheduledJob{ID: "j1", CronExpr: "* * * * *", CreatedAt: past}
	assert.True(t, sched.due(everyMinute, now), "never-run job past its first fire")

	justRan := now.Add(-5 * time.Second)
	everyMinute.LastRunAt = &justRan
	assert.False(t, sched.due(everyMinute, now), "ran within the current minute")

	staleRun := now.Add(-10 * time.Minute)
	everyMinute.LastRunAt = &staleRun
	assert.True(t, sched.due(everyMinute, now))

	bad := &store.ScheduledJob{ID: "j2", CronExpr: "not a cron", CreatedAt: past}
	assert.False(t, sched.due(bad, now), "unparseable expression never fires")
}

func TestNextRun(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := sched.NextRun("0 12 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), next)

	_, err = sched.NextRun("nope", from)
	assert.Error(t, err)
}

// --- Job tick ---

func TestTick_RunsDueJobs(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-due")

	require.NoError(t, s.SaveScheduledJob(ctx, &store.ScheduledJob{
		ID:         "job-due",
		WorkflowID: "wf-due",
		CronExpr:   "* * * * *",
		Input:      map[string]any{"trigger": "cron"},
		Enabled:    true,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	}))

	sched.tick(ctx)
	runner.waitSignal(t)
	assert.Equal(t, []string{"wf-due"}, runner.executedIDs())

	// The run is marked, so the job is no longer due.
	jobs, err := s.ListScheduledJobs(ctx, true)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRunAt)

	sched.tick(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"wf-due"}, runner.executedIDs(), "no second trigger within the minute")
}

func TestTick_SkipsDisabledJobs(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()
	seedWorkflow(t, s, "wf-off")

	require.NoError(t, s.SaveScheduledJob(ctx, &store.ScheduledJob{
		ID:         "job-off",
		WorkflowID: "wf-off",
		CronExpr:   "* * * * *",
		Enabled:    false,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	}))

	sched.tick(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, runner.executedIDs())
}

func TestTryAcquire_DedupesInflight(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	assert.True(t, sched.tryAcquire("job-1"))
	assert.False(t, sched.tryAcquire("job-1"))
	sched.release("job-1")
	assert.True(t, sched.tryAcquire("job-1"))
}

// --- Approval sweep ---

func seedSuspendedExecution(t *testing.T, s store.Store, executionID, authID string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, &schema.Execution{
		ID:         executionID,
		WorkflowID: "wf-gate",
		Status:     schema.ExecutionStatusWaitingAuth,
		StartedAt:  time.Now().UTC(),
	}))
	approval := &store.Approval{
		AuthID:      authID,
		ExecutionID: executionID,
		NodeID:      "gate",
		ToolName:    "user-approval",
		Message:     "proceed?",
		Status:      store.ApprovalStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if !expiresAt.IsZero() {
		approval.ExpiresAt = &expiresAt
	}
	require.NoError(t, s.CreateApproval(ctx, approval))
}

func TestSweep_RejectsExpiredAndResumes(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()

	seedSuspendedExecution(t, s, "exec-1", "auth-1", time.Now().UTC().Add(-time.Minute))

	sched.sweepExpired(ctx)
	runner.waitSignal(t)

	assert.Equal(t, []string{"exec-1"}, runner.resumed)
	require.NotNil(t, runner.decision)
	assert.False(t, runner.decision.Approved)
	assert.Empty(t, runner.decision.DecidedBy, "timeout rejections carry no decider")

	approval, err := s.GetApproval(ctx, "auth-1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalStatusRejected, approval.Status)
}

func TestSweep_LeavesUnexpiredAlone(t *testing.T) {
	sched, s, runner := newTestScheduler(t)
	ctx := context.Background()

	seedSuspendedExecution(t, s, "exec-2", "auth-2", time.Now().UTC().Add(time.Hour))
	seedSuspendedExecution(t, s, "exec-3", "auth-3", time.Time{})

	sched.sweepExpired(ctx)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, runner.resumed)
	for _, authID := range []string{"auth-2", "auth-3"} {
		approval, err := s.GetApproval(ctx, authID)
		require.NoError(t, err)
		assert.Equal(t, store.ApprovalStatusPending, approval.Status)
	}
}

// --- Lifecycle ---

func TestStartStop(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))
	assert.Error(t, sched.Start(ctx), "double start")
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop(), "stop is idempotent")

	// Restart works after a clean stop.
	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Stop())
}
