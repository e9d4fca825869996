package store

import (
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/models"
)

// CreateTodoTask inserts a new checklist item, appending it to the end of
// its thread's pending order.
func (c *Client) CreateTodoTask(ctx sqlCtx, t *models.TodoTask) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tasks (id, thread_id, title, description, status, sort_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ThreadID, t.Title, t.Description, t.Status, t.SortOrder, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "inserting todo task", err)
	}
	return nil
}

// GetTodoTask fetches a checklist item by id.
func (c *Client) GetTodoTask(ctx sqlCtx, id string) (*models.TodoTask, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, thread_id, title, description, status, sort_order, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTodoTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, apierr.NotFound("task %s not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning todo task", err)
	}
	return t, nil
}

// ListTodoTasks returns every checklist item for a thread ordered per the
// display contract in-progress first, then pending by sort order, then done,
// then cancelled.
func (c *Client) ListTodoTasks(ctx sqlCtx, threadID string) ([]*models.TodoTask, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, thread_id, title, description, status, sort_order, created_at, updated_at
		FROM tasks WHERE thread_id = ?
		ORDER BY
			CASE status
				WHEN 'in_progress' THEN 0
				WHEN 'pending' THEN 1
				WHEN 'done' THEN 2
				WHEN 'cancelled' THEN 3
				ELSE 4
			END,
			sort_order ASC,
			created_at ASC`, threadID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "listing todo tasks", err)
	}
	defer rows.Close()

	var out []*models.TodoTask
	for rows.Next() {
		t, err := scanTodoTask(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scanning todo task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTodoTaskStatus transitions a checklist item's status.
func (c *Client) UpdateTodoTaskStatus(ctx sqlCtx, id string, status models.TodoStatus) error {
	res, err := c.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "updating todo task status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("task %s not found", id)
	}
	return nil
}

// UpdateTodoTask replaces the mutable fields of a checklist item.
func (c *Client) UpdateTodoTask(ctx sqlCtx, t *models.TodoTask) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Status, t.SortOrder, time.Now(), t.ID,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "updating todo task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("task %s not found", t.ID)
	}
	return nil
}

// DeleteTodoTask removes a checklist item outright.
func (c *Client) DeleteTodoTask(ctx sqlCtx, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "deleting todo task", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.NotFound("task %s not found", id)
	}
	return nil
}

// PurgeStaleTodoTasks deletes done/cancelled tasks whose last update is older
// than olderThan, returning the number removed.
func (c *Client) PurgeStaleTodoTasks(ctx sqlCtx, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE status IN (?, ?) AND updated_at < ?`,
		models.TodoDone, models.TodoCancelled, cutoff,
	)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "purging stale todo tasks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanTodoTask(row rowScanner) (*models.TodoTask, error) {
	var t models.TodoTask
	if err := row.Scan(&t.ID, &t.ThreadID, &t.Title, &t.Description, &t.Status, &t.SortOrder, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
