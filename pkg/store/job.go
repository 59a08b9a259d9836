package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, job_name, payload, correlation_id, status, attempts, available_at, locked_by, locked_at, last_error, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.JobName, &j.Payload, &j.CorrelationID, &j.Status, &j.Attempts, &j.AvailableAt, &j.LockedBy, &j.LockedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a new job available immediately.
func (s *Store) EnqueueJob(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, job_name, payload, correlation_id, status, attempts, available_at, locked_by, locked_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.JobName, j.Payload, j.CorrelationID, j.Status, j.Attempts, j.AvailableAt, j.LockedBy, j.LockedAt, j.LastError, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: enqueue job: %w", err)
	}
	return nil
}

// ErrNoJobAvailable indicates the claim query found nothing to lock.
var ErrNoJobAvailable = errors.New("store: no job available")

// ClaimNextJob atomically claims the oldest available job whose job_name is
// in names using SELECT ... FOR UPDATE SKIP LOCKED, so two workers never
// hold the same job. lockedBy identifies the claiming worker for
// orphan bookkeeping.
func (s *Store) ClaimNextJob(ctx context.Context, names []string, lockedBy string, now time.Time) (*Job, error) {
	var job *Job
	err := s.Txn(ctx, func(tx DBTX) error {
		row := tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status = $1 AND job_name = ANY($2) AND available_at <= $3
			ORDER BY available_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, JobPending, names, now)

		claimed, err := scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoJobAvailable
		}
		if err != nil {
			return fmt.Errorf("store: claim job query: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE jobs SET status = $2, locked_by = $3, locked_at = $4, attempts = attempts + 1, updated_at = $4
			WHERE id = $1`, claimed.ID, JobInProgress, lockedBy, now)
		if err != nil {
			return fmt.Errorf("store: claim job update: %w", err)
		}

		claimed.Status = JobInProgress
		claimed.LockedBy = &lockedBy
		claimed.LockedAt = &now
		claimed.Attempts++
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob marks a job DONE.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2, updated_at = $3, locked_by = NULL, locked_at = NULL WHERE id = $1`, id, JobDone, now)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	return nil
}

// RescheduleJob reopens a job for retry at availableAt, recording lastErr.
func (s *Store) RescheduleJob(ctx context.Context, id uuid.UUID, availableAt time.Time, lastErr string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, available_at = $3, last_error = $4, locked_by = NULL, locked_at = NULL, updated_at = $5
		WHERE id = $1`, id, JobPending, availableAt, lastErr, now)
	if err != nil {
		return fmt.Errorf("store: reschedule job: %w", err)
	}
	return nil
}

// FailJob marks a job permanently FAILED (no further retry).
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = $3, locked_by = NULL, locked_at = NULL, updated_at = $4
		WHERE id = $1`, id, JobFailed, lastErr, now)
	if err != nil {
		return fmt.Errorf("store: fail job: %w", err)
	}
	return nil
}

// ListOrphanedJobs returns IN_PROGRESS jobs locked before threshold, used for
// orphan recovery when a worker process dies mid-job.
func (s *Store) ListOrphanedJobs(ctx context.Context, threshold time.Time) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 AND locked_at < $2`, JobInProgress, threshold)
	if err != nil {
		return nil, fmt.Errorf("store: list orphaned jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan orphaned job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// CountJobsByStatus reports the queue depth for a given status, used for
// health reporting.
func (s *Store) CountJobsByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count jobs: %w", err)
	}
	return count, nil
}
