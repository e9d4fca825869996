package store

import (
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/fern-run/fern/pkg/apierr"
	"github.com/fern-run/fern/pkg/models"
)

// CreateScheduledJob inserts a new job in the pending state.
func (c *Client) CreateScheduledJob(ctx sqlCtx, j *models.ScheduledJob) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "marshaling job metadata", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, type, status, prompt, scheduled_at, cron_expr, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.Status, j.Prompt, j.ScheduledAt, nullString(j.CronExpr), string(meta), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "inserting scheduled job", err)
	}
	return nil
}

// GetScheduledJob fetches a job by id.
func (c *Client) GetScheduledJob(ctx sqlCtx, id string) (*models.ScheduledJob, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, prompt, scheduled_at, cron_expr, metadata_json, created_at, updated_at, last_fired_at, last_error
		FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanScheduledJob(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, apierr.NotFound("scheduled job %s not found", id)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "scanning scheduled job", err)
	}
	return j, nil
}

// ListScheduledJobs returns jobs, optionally filtered by status, most recently created first.
func (c *Client) ListScheduledJobs(ctx sqlCtx, status models.JobStatus) ([]*models.ScheduledJob, error) {
	var rows *stdsql.Rows
	var err error
	if status == "" {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, type, status, prompt, scheduled_at, cron_expr, metadata_json, created_at, updated_at, last_fired_at, last_error
			FROM scheduled_jobs ORDER BY created_at DESC`)
	} else {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, type, status, prompt, scheduled_at, cron_expr, metadata_json, created_at, updated_at, last_fired_at, last_error
			FROM scheduled_jobs WHERE status = ? ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "listing scheduled jobs", err)
	}
	defer rows.Close()

	var out []*models.ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindInternal, "scanning scheduled job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CancelScheduledJob marks a pending job cancelled. Returns NotFound if it no
// longer exists, Conflict if it isn't pending.
func (c *Client) CancelScheduledJob(ctx sqlCtx, id string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobCancelled, time.Now(), id, models.JobPending,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "cancelling scheduled job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := c.GetScheduledJob(ctx, id); err != nil {
			return err
		}
		return apierr.Conflict("scheduled job %s is not pending", id)
	}
	return nil
}

// ClaimDueScheduledJob atomically moves the oldest due pending job to running
// and returns it. Returns (nil, nil) if none is due. SQLite serializes writer
// transactions at the file level, so a single UPDATE ... WHERE id = (SELECT
// ...) is race-free without an explicit FOR UPDATE SKIP LOCKED equivalent.
func (c *Client) ClaimDueScheduledJob(ctx sqlCtx, now time.Time) (*models.ScheduledJob, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM scheduled_jobs
			WHERE status = ? AND scheduled_at <= ?
			ORDER BY scheduled_at ASC
			LIMIT 1
		)`,
		models.JobRunning, now, models.JobPending, now,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "claiming due scheduled job", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, type, status, prompt, scheduled_at, cron_expr, metadata_json, created_at, updated_at, last_fired_at, last_error
		FROM scheduled_jobs WHERE status = ? AND updated_at = ? ORDER BY scheduled_at ASC LIMIT 1`,
		models.JobRunning, now,
	)
	return scanScheduledJob(row)
}

// CompleteScheduledJob records a successful run. A recurring job is
// re-scheduled to nextFire and returned to pending; a one-shot job is
// marked completed.
func (c *Client) CompleteScheduledJob(ctx sqlCtx, id string, firedAt time.Time, nextFire *time.Time) error {
	if nextFire != nil {
		_, err := c.db.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET status = ?, scheduled_at = ?, last_fired_at = ?, last_error = NULL, updated_at = ?
			WHERE id = ?`,
			models.JobPending, *nextFire, firedAt, firedAt, id,
		)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "rescheduling recurring job", err)
		}
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, last_fired_at = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		models.JobCompleted, firedAt, firedAt, id,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "completing scheduled job", err)
	}
	return nil
}

// FailScheduledJob records a failed run. A recurring job returns to pending
// at its next scheduled fire so one bad run doesn't kill the series; a
// one-shot job is marked failed.
func (c *Client) FailScheduledJob(ctx sqlCtx, id string, failedAt time.Time, nextFire *time.Time, cause string) error {
	if nextFire != nil {
		_, err := c.db.ExecContext(ctx, `
			UPDATE scheduled_jobs
			SET status = ?, scheduled_at = ?, last_fired_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`,
			models.JobPending, *nextFire, failedAt, cause, failedAt, id,
		)
		if err != nil {
			return apierr.Wrap(apierr.KindInternal, "failing scheduled job", err)
		}
		return nil
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, last_fired_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		models.JobFailed, failedAt, cause, failedAt, id,
	)
	if err != nil {
		return apierr.Wrap(apierr.KindInternal, "failing scheduled job", err)
	}
	return nil
}

// ResetOrphanedRunningJobs returns every running job to pending. Called once
// at startup: a job stuck in running means the process died mid-dispatch, and
// scheduled jobs are safe to retry.
func (c *Client) ResetOrphanedRunningJobs(ctx sqlCtx) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = ?, updated_at = ? WHERE status = ?`,
		models.JobPending, time.Now(), models.JobRunning,
	)
	if err != nil {
		return 0, apierr.Wrap(apierr.KindInternal, "resetting orphaned jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanScheduledJob(row rowScanner) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var cronExpr, lastError stdsql.NullString
	var lastFiredAt stdsql.NullTime
	var meta string
	if err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Prompt, &j.ScheduledAt, &cronExpr, &meta,
		&j.CreatedAt, &j.UpdatedAt, &lastFiredAt, &lastError); err != nil {
		return nil, err
	}
	j.CronExpr = cronExpr.String
	j.LastError = lastError.String
	if lastFiredAt.Valid {
		j.LastFiredAt = &lastFiredAt.Time
	}
	if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
		j.Metadata = map[string]any{}
	}
	return &j, nil
}
