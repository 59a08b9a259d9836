// Package scheduler is the durable, Postgres-backed job queue that drives
// every pipeline stage: named jobs, at-least-once delivery, acks-late
// (the handler's own transaction commits before the job is marked DONE),
// exponential backoff with jitter on transient failure, per-task soft and
// hard time limits, and worker recycling. The jobs table is the broker:
// no separate message-queue process is needed for durable delivery.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

// ErrNoJobAvailable is returned by a poll attempt that found nothing to
// claim; workers treat it as a cue to sleep, not an error worth logging. It
// is the same sentinel Store.ClaimNextJob returns, re-exported here so
// callers outside pkg/store don't need to import it just to check errors.Is.
var ErrNoJobAvailable = store.ErrNoJobAvailable

// Handler processes one job payload. correlationID is propagated from the
// submitter through to tracker tags and downstream Submit calls. A
// Handler that returns an error satisfying
// errors.Is(err, xerrors.ErrTransient) is retried with backoff; any other
// non-nil error is terminal (job marked FAILED, no further retry).
type Handler func(ctx context.Context, payload store.Metadata, correlationID string) error

// Store is the persistence surface the scheduler needs.
type Store interface {
	EnqueueJob(ctx context.Context, j *store.Job) error
	ClaimNextJob(ctx context.Context, names []string, lockedBy string, now time.Time) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, now time.Time) error
	RescheduleJob(ctx context.Context, id uuid.UUID, availableAt time.Time, lastErr string, now time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, lastErr string, now time.Time) error
	ListOrphanedJobs(ctx context.Context, threshold time.Time) ([]*store.Job, error)
	CountJobsByStatus(ctx context.Context, status store.JobStatus) (int, error)
}

// WorkerHealth is one worker goroutine's view of its own liveness,
// reported through Scheduler.Health.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	CurrentJobName string    `json:"current_job_name,omitempty"`
	JobsProcessed  int       `json:"jobs_processed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Health is the aggregate worker-pool state exposed to /healthz.
type Health struct {
	IsHealthy        bool           `json:"is_healthy"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}
