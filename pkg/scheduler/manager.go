// Package scheduler implements one-shot and recurring scheduled jobs: create
// a job with either an absolute time, a delay, or a cron expression, and a
// dispatcher tick loop claims due jobs and runs them on the agent runtime
// through a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/ids"
	"github.com/fern-run/fern/pkg/models"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Store is the subset of pkg/store's DAO the manager needs.
type Store interface {
	CreateScheduledJob(ctx context.Context, j *models.ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error)
	ListScheduledJobs(ctx context.Context, status models.JobStatus) ([]*models.ScheduledJob, error)
	CancelScheduledJob(ctx context.Context, id string) error
	ClaimDueScheduledJob(ctx context.Context, now time.Time) (*models.ScheduledJob, error)
	CompleteScheduledJob(ctx context.Context, id string, firedAt time.Time, nextFire *time.Time) error
	FailScheduledJob(ctx context.Context, id string, failedAt time.Time, nextFire *time.Time, cause string) error
	ResetOrphanedRunningJobs(ctx context.Context) (int64, error)
}

// Runtime is the subset of agentrt.Runtime the manager needs to fire a job.
type Runtime interface {
	RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput
}

// Manager runs the scheduler: create/list/get/cancel plus the dispatcher
// that claims due jobs and hands them to a bounded worker pool.
//
// Unlike the subagent manager, a job that was left running by a prior crash
// is reset to pending rather than force-failed: a scheduled job's prompt is
// typically idempotent (a reminder, a digest, a periodic check), so retrying
// it is safer than silently dropping a fire the user was counting on.
type Manager struct {
	store   Store
	runtime Runtime
	cfg     *config.SchedulerConfig
	sem     chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewManager creates a Manager.
func NewManager(store Store, runtime Runtime, cfg *config.SchedulerConfig) *Manager {
	return &Manager{
		store:   store,
		runtime: runtime,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		stopCh:  make(chan struct{}),
	}
}

// Start resets jobs orphaned by a prior crash, then spawns the dispatcher
// loop. Safe to call once; subsequent calls are no-ops. A no-op if the
// scheduler is disabled.
func (m *Manager) Start(ctx context.Context) error {
	if m.started || !m.cfg.Enabled {
		return nil
	}
	m.started = true

	if n, err := m.store.ResetOrphanedRunningJobs(ctx); err != nil {
		slog.Error("Failed to reset orphaned scheduled jobs", "error", err)
	} else if n > 0 {
		slog.Warn("Reset scheduled jobs orphaned by a prior restart", "count", n)
	}

	m.wg.Add(1)
	go m.dispatchLoop()

	slog.Info("Scheduler started", "tick_interval", m.cfg.TickInterval, "max_concurrent", m.cfg.MaxConcurrent)
	return nil
}

// Stop signals the dispatcher to exit and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Create validates the schedule (exactly one of at, delay, cronExpr must be
// set) and inserts a pending job.
func (m *Manager) Create(ctx context.Context, prompt string, at *time.Time, delay *time.Duration, cronExpr string, metadata map[string]any) (*models.ScheduledJob, error) {
	set := 0
	if at != nil {
		set++
	}
	if delay != nil {
		set++
	}
	if cronExpr != "" {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("exactly one of at, delay, or cron must be set")
	}

	now := time.Now()
	job := &models.ScheduledJob{
		ID:        ids.New(ids.PrefixJob),
		Prompt:    prompt,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.JobPending,
	}

	switch {
	case cronExpr != "":
		schedule, err := cronParser.Parse(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		job.Type = models.JobRecurring
		job.CronExpr = cronExpr
		job.ScheduledAt = schedule.Next(now)
	case delay != nil:
		job.Type = models.JobOneShot
		job.ScheduledAt = now.Add(*delay)
	default:
		job.Type = models.JobOneShot
		job.ScheduledAt = *at
	}

	if err := m.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get fetches a job by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	return m.store.GetScheduledJob(ctx, id)
}

// List returns jobs, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status models.JobStatus) ([]*models.ScheduledJob, error) {
	return m.store.ListScheduledJobs(ctx, status)
}

// Cancel marks a pending job cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.store.CancelScheduledJob(ctx, id)
}

// dispatchLoop ticks at cfg.TickInterval, draining every due job into the
// worker pool each tick before sleeping again.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.drainDue()
		}
	}
}

// drainDue claims and dispatches jobs until none are due or the pool is full
// and stop has been requested.
func (m *Manager) drainDue() {
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		job, err := m.store.ClaimDueScheduledJob(context.Background(), time.Now())
		if err != nil {
			slog.Error("Failed to claim due scheduled job", "error", err)
			return
		}
		if job == nil {
			return
		}

		select {
		case m.sem <- struct{}{}:
		case <-m.stopCh:
			return
		}

		m.wg.Add(1)
		go func(j *models.ScheduledJob) {
			defer m.wg.Done()
			defer func() { <-m.sem }()
			m.fire(j)
		}(job)
	}
}

// fire runs one claimed job's turn and records its outcome, rescheduling a
// recurring job to its next cron fire either way.
func (m *Manager) fire(job *models.ScheduledJob) {
	log := slog.With("job_id", job.ID, "type", job.Type)
	log.Info("Scheduled job firing")

	out := m.runtime.RunTurn(context.Background(), agentrt.RunInput{
		ThreadID: "scheduler_" + job.ID,
		Message:  job.Prompt,
		Channel:  "scheduler",
	})

	now := time.Now()
	nextFire := m.nextFire(job, now)

	if isErrorResponse(out.Response) {
		if err := m.store.FailScheduledJob(context.Background(), job.ID, now, nextFire, out.Response); err != nil {
			log.Error("Failed to record scheduled job failure", "error", err)
		}
		return
	}
	if err := m.store.CompleteScheduledJob(context.Background(), job.ID, now, nextFire); err != nil {
		log.Error("Failed to record scheduled job completion", "error", err)
	}
}

// nextFire returns the job's next cron occurrence after now, or nil for a
// one-shot job. A job's cron expression was already validated at Create time,
// so a parse failure here only happens if a row was hand-edited out of band.
func (m *Manager) nextFire(job *models.ScheduledJob, now time.Time) *time.Time {
	if job.Type != models.JobRecurring {
		return nil
	}
	schedule, err := cronParser.Parse(job.CronExpr)
	if err != nil {
		slog.Error("Failed to parse cron expression on a recurring job", "job_id", job.ID, "error", err)
		return nil
	}
	next := schedule.Next(now)
	return &next
}

// isErrorResponse recognizes RunTurn's own error-response literals, the same
// way the subagent worker does.
func isErrorResponse(response string) bool {
	return strings.HasPrefix(response, "I encountered an error") ||
		strings.Contains(response, "timed out waiting for a response") ||
		strings.Contains(response, "Session ended unexpectedly")
}
