// Package todo implements the agent-visible checklist attached to a thread:
// create/list/update/delete plus a background retention pass that purges
// stale done/cancelled items.
package todo

import (
	"context"
	"log/slog"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/ids"
	"github.com/fern-run/fern/pkg/models"
)

// Store is the subset of pkg/store's DAO the manager needs.
type Store interface {
	CreateTodoTask(ctx context.Context, t *models.TodoTask) error
	GetTodoTask(ctx context.Context, id string) (*models.TodoTask, error)
	ListTodoTasks(ctx context.Context, threadID string) ([]*models.TodoTask, error)
	UpdateTodoTaskStatus(ctx context.Context, id string, status models.TodoStatus) error
	UpdateTodoTask(ctx context.Context, t *models.TodoTask) error
	DeleteTodoTask(ctx context.Context, id string) error
	PurgeStaleTodoTasks(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Manager is the checklist manager plus its retention maintenance loop.
type Manager struct {
	store Store
	cfg   *config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager.
func NewManager(store Store, cfg *config.RetentionConfig) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Create appends a new checklist item to the end of its thread's pending
// order (sortOrder = current max + 1 among pending items).
func (m *Manager) Create(ctx context.Context, threadID, title, description string) (*models.TodoTask, error) {
	if threadID == "" {
		return nil, apierr.Validation("threadId must not be empty")
	}
	if title == "" {
		return nil, apierr.Validation("title must not be empty")
	}

	existing, err := m.store.ListTodoTasks(ctx, threadID)
	if err != nil {
		return nil, err
	}
	sortOrder := 0
	for _, t := range existing {
		if t.SortOrder >= sortOrder {
			sortOrder = t.SortOrder + 1
		}
	}

	now := time.Now()
	task := &models.TodoTask{
		ID:          ids.New(ids.PrefixTask),
		ThreadID:    threadID,
		Title:       title,
		Description: description,
		Status:      models.TodoPending,
		SortOrder:   sortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateTodoTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get fetches a single checklist item.
func (m *Manager) Get(ctx context.Context, id string) (*models.TodoTask, error) {
	return m.store.GetTodoTask(ctx, id)
}

// List returns every checklist item for a thread, ordered per the display
// contract (in_progress, then pending by sortOrder, then done, then cancelled).
func (m *Manager) List(ctx context.Context, threadID string) ([]*models.TodoTask, error) {
	return m.store.ListTodoTasks(ctx, threadID)
}

// SetStatus transitions a checklist item's status.
func (m *Manager) SetStatus(ctx context.Context, id string, status models.TodoStatus) error {
	switch status {
	case models.TodoPending, models.TodoInProgress, models.TodoDone, models.TodoCancelled:
	default:
		return apierr.Validation("invalid todo status %q", status)
	}
	return m.store.UpdateTodoTaskStatus(ctx, id, status)
}

// Update replaces the mutable fields (title, description, sortOrder) of a
// checklist item, fetching the current row first so status is never
// clobbered by a stale caller-supplied value.
func (m *Manager) Update(ctx context.Context, id, title, description string, sortOrder int) (*models.TodoTask, error) {
	if title == "" {
		return nil, apierr.Validation("title must not be empty")
	}
	task, err := m.store.GetTodoTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Title = title
	task.Description = description
	task.SortOrder = sortOrder
	if err := m.store.UpdateTodoTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a checklist item outright.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteTodoTask(ctx, id)
}

// Start launches the background retention loop, purging done/cancelled
// items older than cfg.TodoRetention every cfg.CleanupInterval.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	slog.Info("Todo retention started", "retention", m.cfg.TodoRetention, "interval", m.cfg.CleanupInterval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	slog.Info("Todo retention stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.purge()

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *Manager) purge() {
	count, err := m.store.PurgeStaleTodoTasks(context.Background(), m.cfg.TodoRetention)
	if err != nil {
		slog.Error("Todo retention purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Todo retention purged stale tasks", "count", count)
	}
}
