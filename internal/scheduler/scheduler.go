// Package scheduler drives the two background clocks of the system:
// cron-triggered workflow runs and the approval-timeout sweep that
// rejects gates nobody answered.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowd-io/flowd/internal/store"
	"github.com/flowd-io/flowd/pkg/schema"
)

// Runner is the engine surface the scheduler needs. Satisfied by
// *engine.Engine.
type Runner interface {
	Execute(ctx context.Context, wf *store.WorkflowRecord, input map[string]any) (*schema.Execution, error)
	Resume(ctx context.Context, executionID string, decision *schema.ApprovalDecision) (*schema.Execution, error)
}

const (
	defaultJobInterval   = 60 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// Scheduler polls the store for due cron jobs and expired approvals.
// A job's due time derives from its cron expression and last run; no
// schedule state is cached in memory, so restarts pick up where the
// store says things stand.
type Scheduler struct {
	store  store.Store
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	jobInterval   time.Duration
	sweepInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler wires a scheduler over the store and engine.
func NewScheduler(s store.Store, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:         s,
		runner:        runner,
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:        logger,
		jobInterval:   defaultJobInterval,
		sweepInterval: defaultSweepInterval,
		inflight:      make(map[string]struct{}),
	}
}

// Start launches the background loop. Starting twice is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop cancels the loop and waits for it to drain.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	jobs := time.NewTicker(s.jobInterval)
	defer jobs.Stop()
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()

	// Catch up immediately on start.
	s.tick(ctx)
	s.sweepExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-jobs.C:
			s.tick(ctx)
		case <-sweep.C:
			s.sweepExpired(ctx)
		}
	}
}

// tick runs every enabled job whose schedule has come due since its
// last run. Jobs run off the loop goroutine; the in-flight set keeps a
// slow workflow from being triggered twice.
func (s *Scheduler) tick(ctx context.Context) {
	jobs, err := s.store.ListScheduledJobs(ctx, true)
	if err != nil {
		s.logger.Error("list scheduled jobs failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if !s.due(job, now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		job := job
		go func() {
			defer s.release(job.ID)
			s.runJob(ctx, job, now)
		}()
	}
}

// due reports whether the job's next scheduled fire, computed from its
// last run (or creation for a never-run job), is not in the future.
func (s *Scheduler) due(job *store.ScheduledJob, now time.Time) bool {
	schedule, err := s.parser.Parse(job.CronExpr)
	if err != nil {
		s.logger.Error("invalid cron expression",
			"job_id", job.ID, "cron", job.CronExpr, "error", err)
		return false
	}
	from := job.CreatedAt
	if job.LastRunAt != nil {
		from = *job.LastRunAt
	}
	return !schedule.Next(from).After(now)
}

func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) {
	s.logger.Info("running scheduled job",
		"job_id", job.ID, "workflow_id", job.WorkflowID)

	// Mark first: a failing workflow must not re-fire every tick.
	if err := s.store.MarkScheduledJobRun(ctx, job.ID, now); err != nil {
		s.logger.Error("mark scheduled job run failed", "job_id", job.ID, "error", err)
		return
	}

	wf, err := s.store.GetWorkflow(ctx, job.WorkflowID)
	if err != nil {
		s.logger.Error("scheduled job workflow missing",
			"job_id", job.ID, "workflow_id", job.WorkflowID, "error", err)
		return
	}

	exec, err := s.runner.Execute(ctx, wf, job.Input)
	if err != nil {
		s.logger.Error("scheduled job execution failed", "job_id", job.ID, "error", err)
		return
	}
	s.logger.Info("scheduled job finished",
		"job_id", job.ID, "execution_id", exec.ID, "status", string(exec.Status))
}

// sweepExpired rejects approvals past their deadline with a synthetic
// decision (empty DecidedBy marks a timeout) and resumes the parked
// executions so they route the reject branch.
func (s *Scheduler) sweepExpired(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := s.store.ListExpiredApprovals(ctx, now)
	if err != nil {
		s.logger.Error("list expired approvals failed", "error", err)
		return
	}

	for _, approval := range expired {
		decision := &schema.ApprovalDecision{
			AuthID:    approval.AuthID,
			Approved:  false,
			Comment:   "approval timed out",
			DecidedAt: now,
		}
		if err := s.store.ResolveApproval(ctx, approval.AuthID, decision); err != nil {
			// A racing manual decision wins; nothing to do.
			s.logger.Warn("resolve expired approval skipped",
				"auth_id", approval.AuthID, "error", err)
			continue
		}
		s.logger.Info("approval timed out",
			"auth_id", approval.AuthID, "execution_id", approval.ExecutionID)

		if _, err := s.runner.Resume(ctx, approval.ExecutionID, decision); err != nil {
			s.logger.Error("resume after timeout failed",
				"execution_id", approval.ExecutionID, "error", err)
		}
	}
}

func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, running := s.inflight[jobID]; running {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	delete(s.inflight, jobID)
	s.inflightMu.Unlock()
}

// NextRun computes when a cron expression fires after the given time.
// Exposed for API responses on scheduled-job reads.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}
