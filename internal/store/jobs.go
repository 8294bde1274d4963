package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned when a job doesn't exist
var ErrJobNotFound = errors.New("job not found")

// EnqueueJob inserts a pending job runnable from runAfter on.
func (s *Store) EnqueueJob(ctx context.Context, jobType string, payload []byte, runAfter time.Time) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (type, payload, status, attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`, jobType, string(payload), JobPending, formatTime(runAfter), now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	return res.LastInsertId()
}

// abandonedAttempt is recorded on jobs whose worker stopped during the last
// allowed attempt.
const abandonedAttempt = "worker stopped during final attempt"

// ClaimNextRunnable marks the oldest runnable job as running and returns it.
// Jobs stuck in running longer than staleAfter are reclaimed, or failed when
// they have no attempts left. It returns nil when nothing is runnable.
func (s *Store) ClaimNextRunnable(ctx context.Context, maxAttempts int, staleAfter time.Duration) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, last_error = ?, locked_at = NULL, updated_at = ?
			WHERE status = ? AND locked_at <= ? AND attempts >= ?
		`, JobFailed, abandonedAttempt, formatTime(now), JobRunning, formatTime(now.Add(-staleAfter)), maxAttempts); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id, type, payload, status, attempts, run_after, COALESCE(last_error, ''), created_at
			FROM jobs
			WHERE attempts < ?
				AND ((status = ? AND run_after <= ?) OR (status = ? AND locked_at <= ?))
			ORDER BY run_after, id
			LIMIT 1
		`, maxAttempts, JobPending, formatTime(now), JobRunning, formatTime(now.Add(-staleAfter)))

		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempts = attempts + 1, locked_at = ?, updated_at = ?
			WHERE id = ?
		`, JobRunning, formatTime(now), formatTime(now), j.ID); err != nil {
			return err
		}
		j.Status = JobRunning
		j.Attempts++
		job = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	return s.setJobState(ctx, id, JobDone, "", time.Now())
}

// RetryJob returns a job to pending, runnable again from runAfter.
func (s *Store) RetryJob(ctx context.Context, id int64, lastErr string, runAfter time.Time) error {
	return s.setJobState(ctx, id, JobPending, lastErr, runAfter)
}

// FailJob marks a job permanently failed.
func (s *Store) FailJob(ctx context.Context, id int64, lastErr string) error {
	return s.setJobState(ctx, id, JobFailed, lastErr, time.Now())
}

func (s *Store) setJobState(ctx context.Context, id int64, status JobStatus, lastErr string, runAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = NULLIF(?, ''), run_after = ?, locked_at = NULL, updated_at = ?
		WHERE id = ?
	`, status, lastErr, formatTime(runAfter), formatTime(time.Now()), id)
	return err
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, payload, status, attempts, run_after, COALESCE(last_error, ''), created_at
		FROM jobs WHERE id = ?
	`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// ListJobs returns jobs of a type in insertion order.
func (s *Store) ListJobs(ctx context.Context, jobType string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, status, attempts, run_after, COALESCE(last_error, ''), created_at
		FROM jobs WHERE type = ? ORDER BY id
	`, jobType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus returns the number of jobs per status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var payload, runAfter, createdAt string
	if err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &runAfter, &j.LastError, &createdAt); err != nil {
		return nil, err
	}
	j.Payload = []byte(payload)

	var err error
	if j.RunAfter, err = parseTime(runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after %q: %w", runAfter, err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	return &j, nil
}
