package store

import (
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/models"
)

// CreateSubagentTask inserts a new task in the pending state.
func (c *Client) CreateSubagentTask(ctx sqlCtx, t *models.SubagentTask) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling task metadata", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO subagent_tasks (id, type, status, prompt, description, parent_session_id, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Status, t.Prompt, t.Description, nullString(t.ParentSessionID), string(meta), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "inserting subagent task", err)
	}
	return nil
}

// GetSubagentTask fetches a task by id.
func (c *Client) GetSubagentTask(ctx sqlCtx, id string) (*models.SubagentTask, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, prompt, description, parent_session_id, result, error, metadata_json, created_at, updated_at, completed_at
		FROM subagent_tasks WHERE id = ?`, id)
	t, err := scanSubagentTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, apierr.NotFound("subagent task %s not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning subagent task", err)
	}
	return t, nil
}

// ClaimPendingSubagentTask atomically moves the oldest pending task to
// running and returns it, bounded by the caller's worker-pool concurrency
// check. Returns (nil, nil) when the queue is empty.
func (c *Client) ClaimPendingSubagentTask(ctx sqlCtx) (*models.SubagentTask, error) {
	now := time.Now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE subagent_tasks
		SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM subagent_tasks WHERE status = ? ORDER BY created_at ASC LIMIT 1
		)`,
		models.TaskRunning, now, models.TaskPending,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "claiming subagent task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, prompt, description, parent_session_id, result, error, metadata_json, created_at, updated_at, completed_at
		FROM subagent_tasks WHERE status = ? AND updated_at = ? ORDER BY created_at ASC LIMIT 1`,
		models.TaskRunning, now,
	)
	return scanSubagentTask(row)
}

// CompleteSubagentTask records a successful task result. Guarded to only
// apply from running: a task cancelled while its turn was still in flight
// must stay cancelled, not be resurrected into completed once the turn
// finally returns.
func (c *Client) CompleteSubagentTask(ctx sqlCtx, id, result string) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, result = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.TaskCompleted, result, now, now, id, models.TaskRunning,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "completing subagent task", err)
	}
	return nil
}

// FailSubagentTask records a task failure. Not retryable: the caller does not
// resubmit it to pending. Guarded to only apply from running, for the same
// reason as CompleteSubagentTask: a cancelled task must stay cancelled.
func (c *Client) FailSubagentTask(ctx sqlCtx, id, cause string) error {
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.TaskFailed, cause, now, now, id, models.TaskRunning,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failing subagent task", err)
	}
	return nil
}

// CancelSubagentTask marks a pending or running task cancelled.
func (c *Client) CancelSubagentTask(ctx sqlCtx, id string) error {
	now := time.Now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.TaskCancelled, now, now, id, models.TaskPending, models.TaskRunning,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "cancelling subagent task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := c.GetSubagentTask(ctx, id); err != nil {
			return err
		}
		return apierr.Conflict("subagent task %s already finished", id)
	}
	return nil
}

// FailOrphanedRunningSubagentTasks force-fails every running task. Called
// once at startup: unlike scheduled jobs, subagent work is not safely
// re-runnable (it may have had side effects via tool calls), so the in-flight
// attempt is marked failed rather than requeued.
func (c *Client) FailOrphanedRunningSubagentTasks(ctx sqlCtx) (int64, error) {
	now := time.Now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE subagent_tasks SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE status = ?`,
		models.TaskFailed, "interrupted by process restart", now, now, models.TaskRunning,
	)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "failing orphaned subagent tasks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountRunningSubagentTasks reports how many tasks are currently in flight,
// used to enforce the worker pool's concurrency ceiling.
func (c *Client) CountRunningSubagentTasks(ctx sqlCtx) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subagent_tasks WHERE status = ?`, models.TaskRunning).Scan(&n)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "counting running subagent tasks", err)
	}
	return n, nil
}

func scanSubagentTask(row rowScanner) (*models.SubagentTask, error) {
	var t models.SubagentTask
	var parentSessionID, result, taskErr stdsql.NullString
	var completedAt stdsql.NullTime
	var meta string
	if err := row.Scan(&t.ID, &t.Type, &t.Status, &t.Prompt, &t.Description, &parentSessionID,
		&result, &taskErr, &meta, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	t.ParentSessionID = parentSessionID.String
	t.Result = result.String
	t.Error = taskErr.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		t.Metadata = map[string]any{}
	}
	return &t, nil
}
