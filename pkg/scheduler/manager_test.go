package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.ScheduledJob
	orphans int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*models.ScheduledJob)}
}

func (s *fakeStore) CreateScheduledJob(ctx context.Context, j *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, notFoundErr{id}
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) ListScheduledJobs(ctx context.Context, status models.JobStatus) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledJob
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CancelScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return notFoundErr{id}
	}
	j.Status = models.JobCancelled
	return nil
}

func (s *fakeStore) ClaimDueScheduledJob(ctx context.Context, now time.Time) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due *models.ScheduledJob
	for _, j := range s.jobs {
		if j.Status == models.JobPending && !j.ScheduledAt.After(now) {
			if due == nil || j.ScheduledAt.Before(due.ScheduledAt) {
				due = j
			}
		}
	}
	if due == nil {
		return nil, nil
	}
	due.Status = models.JobRunning
	cp := *due
	return &cp, nil
}

func (s *fakeStore) CompleteScheduledJob(ctx context.Context, id string, firedAt time.Time, nextFire *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.LastFiredAt = &firedAt
	j.LastError = ""
	if nextFire != nil {
		j.Status = models.JobPending
		j.ScheduledAt = *nextFire
	} else {
		j.Status = models.JobCompleted
	}
	return nil
}

func (s *fakeStore) FailScheduledJob(ctx context.Context, id string, failedAt time.Time, nextFire *time.Time, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.LastFiredAt = &failedAt
	j.LastError = cause
	if nextFire != nil {
		j.Status = models.JobPending
		j.ScheduledAt = *nextFire
	} else {
		j.Status = models.JobFailed
	}
	return nil
}

func (s *fakeStore) ResetOrphanedRunningJobs(ctx context.Context) (int64, error) {
	return s.orphans, nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "scheduled job not found: " + e.id }

type fakeRuntime struct {
	mu    sync.Mutex
	calls []agentrt.RunInput
	resp  string
}

func (r *fakeRuntime) RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput {
	r.mu.Lock()
	r.calls = append(r.calls, in)
	r.mu.Unlock()
	return agentrt.RunOutput{ThreadID: in.ThreadID, Response: r.resp}
}

func (r *fakeRuntime) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestManager(store Store, runtime Runtime) *Manager {
	cfg := config.DefaultSchedulerConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.MaxConcurrent = 2
	return NewManager(store, runtime, cfg)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

func TestCreateRejectsAmbiguousSchedule(t *testing.T) {
	mgr := newTestManager(newFakeStore(), &fakeRuntime{})
	at := time.Now().Add(time.Hour)
	delay := time.Minute
	_, err := mgr.Create(context.Background(), "do a thing", &at, &delay, "", nil)
	require.Error(t, err)
}

func TestCreateRejectsInvalidCron(t *testing.T) {
	mgr := newTestManager(newFakeStore(), &fakeRuntime{})
	_, err := mgr.Create(context.Background(), "do a thing", nil, nil, "not a cron expr", nil)
	require.Error(t, err)
}

func TestCreateOneShotWithDelay(t *testing.T) {
	mgr := newTestManager(newFakeStore(), &fakeRuntime{})
	delay := 5 * time.Minute
	job, err := mgr.Create(context.Background(), "remind me", nil, &delay, "", nil)
	require.NoError(t, err)
	require.Equal(t, models.JobOneShot, job.Type)
	require.WithinDuration(t, time.Now().Add(delay), job.ScheduledAt, 2*time.Second)
}

func TestDispatcherFiresDueOneShotJob(t *testing.T) {
	store := newFakeStore()
	runtime := &fakeRuntime{resp: "reminder sent"}
	mgr := newTestManager(store, runtime)

	past := time.Now().Add(-time.Second)
	job, err := mgr.Create(context.Background(), "remind me", &past, nil, "", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	waitUntil(t, time.Second, func() bool {
		got, _ := mgr.Get(context.Background(), job.ID)
		return got != nil && got.Status == models.JobCompleted
	})
	require.Equal(t, 1, runtime.callCount())
}

func TestDispatcherReschedulesRecurringJobAfterFiring(t *testing.T) {
	store := newFakeStore()
	runtime := &fakeRuntime{resp: "digest sent"}
	mgr := newTestManager(store, runtime)

	job, err := mgr.Create(context.Background(), "daily digest", nil, nil, "* * * * *", nil)
	require.NoError(t, err)
	store.mu.Lock()
	store.jobs[job.ID].ScheduledAt = time.Now().Add(-time.Second)
	store.mu.Unlock()

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	waitUntil(t, time.Second, func() bool { return runtime.callCount() >= 1 })
	got, err := mgr.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, got.Status)
	require.True(t, got.ScheduledAt.After(time.Now()))
}

func TestDispatcherReschedulesRecurringJobAfterFailure(t *testing.T) {
	store := newFakeStore()
	runtime := &fakeRuntime{resp: "I encountered an error: backend unavailable"}
	mgr := newTestManager(store, runtime)

	job, err := mgr.Create(context.Background(), "daily digest", nil, nil, "* * * * *", nil)
	require.NoError(t, err)
	store.mu.Lock()
	store.jobs[job.ID].ScheduledAt = time.Now().Add(-time.Second)
	store.mu.Unlock()

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	waitUntil(t, time.Second, func() bool { return runtime.callCount() >= 1 })
	got, err := mgr.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, got.Status)
	require.NotEmpty(t, got.LastError)
}

func TestCancelMarksPendingJobCancelled(t *testing.T) {
	store := newFakeStore()
	mgr := newTestManager(store, &fakeRuntime{})

	at := time.Now().Add(time.Hour)
	job, err := mgr.Create(context.Background(), "later", &at, nil, "", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(context.Background(), job.ID))
	got, err := mgr.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobCancelled, got.Status)
}

func TestStartResetsOrphanedRunningJobs(t *testing.T) {
	store := newFakeStore()
	store.orphans = 3
	mgr := newTestManager(store, &fakeRuntime{})

	require.NoError(t, mgr.Start(context.Background()))
	mgr.Stop()
}
