package scheduler

import "time"

// Config carries the CELERY_*-style tuning knobs translated to their
// Go-worker-pool equivalents. All durations are already parsed;
// pkg/config.Load is responsible for env parsing and bounds validation.
type Config struct {
	// WorkerConcurrency is the number of worker goroutines run per process.
	WorkerConcurrency int
	// PrefetchMultiplier is accepted and validated but has no effect: each
	// worker claims and processes exactly one job per poll.
	PrefetchMultiplier int
	// TaskSoftTimeLimit is the context deadline handlers observe via
	// ctx.Done() between streaming chunks as a graceful-finish signal.
	TaskSoftTimeLimit time.Duration
	// TaskTimeLimit is the hard upper bound: if a handler has not returned
	// by this deadline the worker abandons it and the job is requeued by
	// at-least-once delivery (Go has no process-kill equivalent to
	// Celery's SIGKILL, so "killed" here means "no longer awaited").
	TaskTimeLimit time.Duration
	// TaskRetryDelay is the base delay before the first retry.
	TaskRetryDelay time.Duration
	// TaskRetryBackoffMax caps the exponential backoff delay.
	TaskRetryBackoffMax time.Duration
	// MaxTasksPerChild is the handled-job count after which a worker logs a
	// recycle and resets its counter. The goroutine keeps running and
	// nothing is released, so it does not bound memory use.
	MaxTasksPerChild int
	// BrokerPoolLimit and BrokerConnectionTimeout are recognised env
	// options but unused: this scheduler is Postgres-backed (the jobs
	// table IS the broker), not a separate connection pool. Kept so
	// pkg/config can validate the env keys even though nothing consumes
	// them.
	BrokerPoolLimit         int
	BrokerConnectionTimeout time.Duration

	// PollInterval and PollIntervalJitter govern how often an idle worker
	// re-checks the queue when ClaimNextJob finds nothing.
	PollInterval       time.Duration
	PollIntervalJitter time.Duration

	// OrphanDetectionInterval and OrphanThreshold govern the background
	// scan that reclaims jobs left IN_PROGRESS by a worker that died
	// mid-handler (process crash, hard-kill).
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration
}

// DefaultConfig returns the knob values used when an operator supplies no
// CELERY_* overrides.
func DefaultConfig() Config {
	return Config{
		WorkerConcurrency:       4,
		PrefetchMultiplier:      4,
		TaskSoftTimeLimit:       300 * time.Second,
		TaskTimeLimit:           600 * time.Second,
		TaskRetryDelay:          5 * time.Second,
		TaskRetryBackoffMax:     300 * time.Second,
		MaxTasksPerChild:        1000,
		BrokerPoolLimit:         10,
		BrokerConnectionTimeout: 10 * time.Second,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         2 * time.Minute,
	}
}
