package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/channel"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/coordinator"
	"github.com/fern-run/fern/pkg/llmbackend"
	"github.com/fern-run/fern/pkg/masking"
	"github.com/fern-run/fern/pkg/memory"
	"github.com/fern-run/fern/pkg/models"
	"github.com/fern-run/fern/pkg/scheduler"
	"github.com/fern-run/fern/pkg/subagent"
	"github.com/fern-run/fern/pkg/todo"
)

// --- fakes shared across handler tests ---

type fakeRuntime struct{}

func (fakeRuntime) RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput {
	return agentrt.RunOutput{ThreadID: in.ThreadID, Response: "ok: " + in.Message}
}

type fakeSchedulerStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob
}

func newFakeSchedulerStore() *fakeSchedulerStore {
	return &fakeSchedulerStore{jobs: make(map[string]*models.ScheduledJob)}
}
func (s *fakeSchedulerStore) CreateScheduledJob(ctx context.Context, j *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}
func (s *fakeSchedulerStore) GetScheduledJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return j, nil
}
func (s *fakeSchedulerStore) ListScheduledJobs(ctx context.Context, status models.JobStatus) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ScheduledJob
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}
func (s *fakeSchedulerStore) CancelScheduledJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	if j.Status != models.JobPending {
		return fmt.Errorf("not pending")
	}
	j.Status = models.JobCancelled
	return nil
}
func (s *fakeSchedulerStore) ClaimDueScheduledJob(ctx context.Context, now time.Time) (*models.ScheduledJob, error) {
	return nil, nil
}
func (s *fakeSchedulerStore) CompleteScheduledJob(ctx context.Context, id string, firedAt time.Time, nextFire *time.Time) error {
	return nil
}
func (s *fakeSchedulerStore) FailScheduledJob(ctx context.Context, id string, failedAt time.Time, nextFire *time.Time, cause string) error {
	return nil
}
func (s *fakeSchedulerStore) ResetOrphanedRunningJobs(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeSubagentStore struct {
	mu    sync.Mutex
	tasks map[string]*models.SubagentTask
}

func newFakeSubagentStore() *fakeSubagentStore {
	return &fakeSubagentStore{tasks: make(map[string]*models.SubagentTask)}
}
func (s *fakeSubagentStore) CreateSubagentTask(ctx context.Context, t *models.SubagentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}
func (s *fakeSubagentStore) GetSubagentTask(ctx context.Context, id string) (*models.SubagentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return t, nil
}
func (s *fakeSubagentStore) ClaimPendingSubagentTask(ctx context.Context) (*models.SubagentTask, error) {
	return nil, nil
}
func (s *fakeSubagentStore) CompleteSubagentTask(ctx context.Context, id, result string) error {
	return nil
}
func (s *fakeSubagentStore) FailSubagentTask(ctx context.Context, id, cause string) error { return nil }
func (s *fakeSubagentStore) CancelSubagentTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	t.Status = models.TaskCancelled
	return nil
}
func (s *fakeSubagentStore) FailOrphanedRunningSubagentTasks(ctx context.Context) (int64, error) {
	return 0, nil
}

type fakeMemoryStore struct {
	mu   sync.Mutex
	mems map[string]*models.PersistentMemory
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{mems: make(map[string]*models.PersistentMemory)}
}
func (s *fakeMemoryStore) CreateMemoryChunk(ctx context.Context, chunk *models.MemoryChunk) error {
	return nil
}
func (s *fakeMemoryStore) ListMemoryChunksByThread(ctx context.Context, threadID string) ([]*models.MemoryChunk, error) {
	return nil, nil
}
func (s *fakeMemoryStore) AllMemoryChunks(ctx context.Context) ([]*models.MemoryChunk, error) {
	return nil, nil
}
func (s *fakeMemoryStore) KeywordSearchMemoryChunks(ctx context.Context, query string, limit int) ([]*models.MemoryChunk, []float64, error) {
	return nil, nil, nil
}
func (s *fakeMemoryStore) CreatePersistentMemory(ctx context.Context, m *models.PersistentMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mems[m.ID] = m
	return nil
}
func (s *fakeMemoryStore) GetPersistentMemory(ctx context.Context, id string) (*models.PersistentMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mems[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return m, nil
}
func (s *fakeMemoryStore) DeletePersistentMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mems, id)
	return nil
}
func (s *fakeMemoryStore) AllPersistentMemories(ctx context.Context) ([]*models.PersistentMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PersistentMemory
	for _, m := range s.mems {
		out = append(out, m)
	}
	return out, nil
}
func (s *fakeMemoryStore) KeywordSearchPersistentMemories(ctx context.Context, query string, limit int) ([]*models.PersistentMemory, []float64, error) {
	return nil, nil, nil
}
func (s *fakeMemoryStore) GetArchivalWatermark(ctx context.Context, threadID string) (*models.ArchivalWatermark, error) {
	return nil, nil
}
func (s *fakeMemoryStore) UpsertArchivalWatermark(ctx context.Context, w *models.ArchivalWatermark) error {
	return nil
}

type fakeBackend struct{}

func (fakeBackend) SessionMessages(ctx context.Context, sessionID string) ([]llmbackend.Message, error) {
	return nil, nil
}
func (fakeBackend) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return "", nil
}
func (fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fakeTodoStore struct {
	mu    sync.Mutex
	tasks map[string]*models.TodoTask
}

func newFakeTodoStore() *fakeTodoStore {
	return &fakeTodoStore{tasks: make(map[string]*models.TodoTask)}
}
func (s *fakeTodoStore) CreateTodoTask(ctx context.Context, t *models.TodoTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}
func (s *fakeTodoStore) GetTodoTask(ctx context.Context, id string) (*models.TodoTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return t, nil
}
func (s *fakeTodoStore) ListTodoTasks(ctx context.Context, threadID string) ([]*models.TodoTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TodoTask
	for _, t := range s.tasks {
		if t.ThreadID == threadID {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *fakeTodoStore) UpdateTodoTaskStatus(ctx context.Context, id string, status models.TodoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	t.Status = status
	return nil
}
func (s *fakeTodoStore) UpdateTodoTask(ctx context.Context, upd *models.TodoTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[upd.ID]
	if !ok {
		return fmt.Errorf("not found")
	}
	t.Title, t.Description, t.SortOrder = upd.Title, upd.Description, upd.SortOrder
	return nil
}
func (s *fakeTodoStore) DeleteTodoTask(ctx context.Context, id string) error { return nil }
func (s *fakeTodoStore) PurgeStaleTodoTasks(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func newTestServer(t *testing.T, apiSecret string) *Server {
	t.Helper()
	schedMgr := scheduler.NewManager(newFakeSchedulerStore(), fakeRuntime{}, config.DefaultSchedulerConfig())
	subMgr := subagent.NewManager(newFakeSubagentStore(), fakeRuntime{}, coordinator.New(), config.DefaultSubagentConfig())
	memMgr := memory.NewManager(newFakeMemoryStore(), fakeBackend{}, masking.NewService(), config.DefaultMemoryConfig())
	todoMgr := todo.NewManager(newFakeTodoStore(), config.DefaultRetentionConfig())
	registry := channel.NewRegistry()

	return NewServer(fakeRuntime{}, schedMgr, subMgr, memMgr, todoMgr, registry, apiSecret)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointNeedsNoAuth(t *testing.T) {
	srv := newTestServer(t, "super-secret")
	rec := doJSON(t, srv, http.MethodGet, "/internal/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardedEndpointRejectsMissingSecret(t *testing.T) {
	srv := newTestServer(t, "super-secret")
	rec := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]string{"threadId": "t1", "message": "hi"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatEndpointRunsATurn(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/api/chat", map[string]string{"threadId": "t1", "message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok: hi")
}

func TestSchedulerCreateRejectsAmbiguousSchedule(t *testing.T) {
	srv := newTestServer(t, "")
	delay := int64(1000)
	rec := doJSON(t, srv, http.MethodPost, "/internal/scheduler/create", map[string]any{
		"prompt": "check something", "delayMs": delay, "cronExpr": "* * * * *",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerCreateThenGet(t *testing.T) {
	srv := newTestServer(t, "")
	delay := int64(60000)
	rec := doJSON(t, srv, http.MethodPost, "/internal/scheduler/create", map[string]any{
		"prompt": "check something", "delayMs": delay,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var job models.ScheduledJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	rec = doJSON(t, srv, http.MethodGet, "/internal/scheduler/get/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSchedulerCancelUnknownJobReturns404(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/internal/scheduler/cancel/bogus", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubagentSpawnThenGet(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/internal/subagent/spawn", map[string]any{
		"type": "explore", "prompt": "look into it", "description": "exploration",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var task models.SubagentTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.Equal(t, models.TaskPending, task.Status)

	rec = doJSON(t, srv, http.MethodGet, "/internal/subagent/get/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMemoryWriteAndDelete(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/internal/memory/write", map[string]any{
		"type": "fact", "content": "likes dark mode",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var mem models.PersistentMemory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mem))

	rec = doJSON(t, srv, http.MethodDelete, "/internal/memory/delete/"+mem.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":true`)
}

func TestTasksCreateListAndUpdate(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/internal/tasks/create", map[string]string{
		"threadId": "thread-1", "title": "write tests",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var task models.TodoTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	rec = doJSON(t, srv, http.MethodPost, "/internal/tasks/update/"+task.ID, map[string]string{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/internal/tasks/next?threadId=thread-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), task.ID)
}

func TestChannelSendToUnknownChannelReturns404(t *testing.T) {
	srv := newTestServer(t, "")
	rec := doJSON(t, srv, http.MethodPost, "/internal/channel/send", map[string]string{
		"channel": "nonexistent", "to": "user-1", "content": "hi",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
