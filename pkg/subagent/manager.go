package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/fern-run/fern/pkg/agentrt"
	"github.com/fern-run/fern/pkg/config"
	"github.com/fern-run/fern/pkg/coordinator"
	"github.com/fern-run/fern/pkg/ids"
	"github.com/fern-run/fern/pkg/models"
)

// DefaultWaitTimeout is how long GetTask(wait=true) blocks when the caller
// does not specify its own timeout.
const DefaultWaitTimeout = 5 * time.Minute

const (
	pollInterval = 500 * time.Millisecond
	pollJitter   = 150 * time.Millisecond
)

// Store is the subset of pkg/store's DAO the manager needs.
type Store interface {
	CreateSubagentTask(ctx context.Context, t *models.SubagentTask) error
	GetSubagentTask(ctx context.Context, id string) (*models.SubagentTask, error)
	ClaimPendingSubagentTask(ctx context.Context) (*models.SubagentTask, error)
	CompleteSubagentTask(ctx context.Context, id, result string) error
	FailSubagentTask(ctx context.Context, id, cause string) error
	CancelSubagentTask(ctx context.Context, id string) error
	FailOrphanedRunningSubagentTasks(ctx context.Context) (int64, error)
}

// Runtime is the subset of agentrt.Runtime the manager needs to drive a turn.
type Runtime interface {
	RunTurn(ctx context.Context, in agentrt.RunInput) agentrt.RunOutput
}

// Manager runs the subagent task manager: spawnTask/getTask/cancelTask plus
// the bounded worker pool that executes claimed tasks.
type Manager struct {
	store       Store
	runtime     Runtime
	coordinator *coordinator.Coordinator
	cfg         *config.SubagentConfig

	wake chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewManager creates a Manager. coord should be the same Coordinator instance
// shared with the agent runtime.
func NewManager(store Store, runtime Runtime, coord *coordinator.Coordinator, cfg *config.SubagentConfig) *Manager {
	return &Manager{
		store:       store,
		runtime:     runtime,
		coordinator: coord,
		cfg:         cfg,
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start resets any task orphaned by a prior process crash, then spawns the
// worker pool. Safe to call once; subsequent calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		return nil
	}
	m.started = true

	if n, err := m.store.FailOrphanedRunningSubagentTasks(ctx); err != nil {
		slog.Error("Failed to fail orphaned subagent tasks", "error", err)
	} else if n > 0 {
		slog.Warn("Force-failed subagent tasks orphaned by a prior restart", "count", n)
	}

	for i := 0; i < m.cfg.MaxConcurrent; i++ {
		workerID := fmt.Sprintf("subagent-worker-%d", i)
		m.wg.Add(1)
		go m.runWorker(workerID)
	}

	slog.Info("Subagent manager started", "workers", m.cfg.MaxConcurrent)
	return nil
}

// Stop signals every worker to exit and waits for in-flight tasks to finish.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	slog.Info("Subagent manager stopped")
}

// SpawnTask writes a pending task row and wakes an idle worker.
func (m *Manager) SpawnTask(ctx context.Context, taskType models.SubagentType, prompt, description, parentSessionID string, metadata map[string]any) (*models.SubagentTask, error) {
	if _, err := ContractFor(taskType); err != nil {
		return nil, err
	}

	now := time.Now()
	task := &models.SubagentTask{
		ID:              ids.New(ids.PrefixTask),
		Type:            taskType,
		Status:          models.TaskPending,
		Prompt:          prompt,
		Description:     description,
		ParentSessionID: parentSessionID,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.store.CreateSubagentTask(ctx, task); err != nil {
		return nil, err
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}

	return task, nil
}

// GetTask reads a task's current state. When wait is true and the task is
// not yet terminal, it blocks on the completion coordinator until the task
// finishes or timeout elapses (DefaultWaitTimeout if timeout <= 0).
func (m *Manager) GetTask(ctx context.Context, id string, wait bool, timeout time.Duration) (*models.SubagentTask, error) {
	task, err := m.store.GetSubagentTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wait || isTerminal(task.Status) {
		return task, nil
	}

	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	m.coordinator.Register(id)
	if _, waitErr := m.coordinator.WaitFor(ctx, id, timeout); waitErr != nil {
		slog.Warn("getTask wait ended without a completion signal", "task_id", id, "error", waitErr)
	}

	return m.store.GetSubagentTask(ctx, id)
}

// CancelTask marks a pending or running task cancelled. A caller blocked in
// GetTask(wait=true) is signalled immediately rather than left to time out.
func (m *Manager) CancelTask(ctx context.Context, id string) error {
	if err := m.store.CancelSubagentTask(ctx, id); err != nil {
		return err
	}
	m.coordinator.SignalError(id, fmt.Errorf("subagent task %s cancelled", id))
	return nil
}

func isTerminal(s models.TaskStatus) bool {
	switch s {
	case models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
		return true
	default:
		return false
	}
}

// runWorker polls for claimable tasks, sleeping between empty polls but
// waking early whenever SpawnTask signals new work.
func (m *Manager) runWorker(workerID string) {
	defer m.wg.Done()
	log := slog.With("worker_id", workerID)
	log.Info("Subagent worker started")

	for {
		select {
		case <-m.stopCh:
			log.Info("Subagent worker shutting down")
			return
		default:
		}

		claimed, err := m.store.ClaimPendingSubagentTask(context.Background())
		if err != nil {
			log.Error("Failed to claim subagent task", "error", err)
			m.sleep(time.Second)
			continue
		}
		if claimed == nil {
			m.sleep(jitteredInterval())
			continue
		}

		m.process(workerID, claimed)
	}
}

func (m *Manager) sleep(d time.Duration) {
	select {
	case <-m.stopCh:
	case <-m.wake:
	case <-time.After(d):
	}
}

func jitteredInterval() time.Duration {
	offset := time.Duration(rand.Int64N(int64(2 * pollJitter)))
	return pollInterval - pollJitter + offset
}

func (m *Manager) process(workerID string, task *models.SubagentTask) {
	log := slog.With("worker_id", workerID, "task_id", task.ID, "type", task.Type)
	log.Info("Subagent task claimed")

	contract, err := ContractFor(task.Type)
	if err != nil {
		m.finishWithFailure(task.ID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TaskTimeout)
	defer cancel()

	out := m.runtime.RunTurn(ctx, agentrt.RunInput{
		ThreadID:          "subagent_" + task.ID,
		Message:           task.Prompt,
		Channel:           "subagent",
		AgentType:         string(task.Type),
		AllowedTools:      contract.AllowedTools,
		ExtraInstructions: contract.instructions(),
	})

	if isErrorResponse(out.Response) {
		m.finishWithFailure(task.ID, out.Response)
		return
	}

	if err := m.store.CompleteSubagentTask(context.Background(), task.ID, out.Response); err != nil {
		log.Error("Failed to record subagent task completion", "error", err)
	}
	m.coordinator.Signal(task.ID, out.Response)
}

func (m *Manager) finishWithFailure(taskID, cause string) {
	if err := m.store.FailSubagentTask(context.Background(), taskID, cause); err != nil {
		slog.Error("Failed to record subagent task failure", "task_id", taskID, "error", err)
	}
	m.coordinator.SignalError(taskID, fmt.Errorf("%s", cause))
}

// isErrorResponse recognizes RunTurn's own error-response literals. RunTurn
// never returns a Go error, so this is the only way the worker can tell a
// turn's own failure apart from a normal answer.
func isErrorResponse(response string) bool {
	return strings.HasPrefix(response, "I encountered an error") ||
		strings.Contains(response, "timed out waiting for a response") ||
		strings.Contains(response, "Session ended unexpectedly")
}
