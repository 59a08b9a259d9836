package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

type workerStatus string

const (
	workerStatusIdle    workerStatus = "idle"
	workerStatusWorking workerStatus = "working"
)

// worker polls the scheduler's Store for jobs scoped to its registered
// handlers, executes them, and reports outcomes back to Store. Dispatch
// is by job name against the scheduler's handler registry.
type worker struct {
	id  string
	sch *Scheduler

	mu            sync.RWMutex
	status        workerStatus
	currentJob    string
	jobsProcessed int
	lastActivity  time.Time
}

func newWorker(id string, sch *Scheduler) *worker {
	return &worker{
		id:           id,
		sch:          sch,
		status:       workerStatusIdle,
		lastActivity: sch.clock.Now(),
	}
}

func (w *worker) health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentJobName: w.currentJob,
		JobsProcessed:  w.jobsProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *worker) setStatus(status workerStatus, jobName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJob = jobName
	w.lastActivity = w.sch.clock.Now()
}

// run is the worker's main poll loop.
func (w *worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id, "pod_id", w.sch.podID)
	log.Info("scheduler worker started")

	tasksHandled := 0
	for {
		select {
		case <-w.sch.stopCh:
			log.Info("scheduler worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, scheduler worker shutting down")
			return
		default:
		}

		processed, err := w.pollAndProcess(ctx)
		if err != nil {
			if errors.Is(err, ErrNoJobAvailable) {
				w.sleep(w.pollInterval())
				continue
			}
			log.Error("scheduler worker poll error", "error", err)
			w.sleep(time.Second)
			continue
		}
		if !processed {
			continue
		}

		tasksHandled++
		if w.sch.config.MaxTasksPerChild > 0 && tasksHandled >= w.sch.config.MaxTasksPerChild {
			// Recycle in place: reset the per-cycle counter and keep polling,
			// so the pool never shrinks. Goroutines share the process heap,
			// so unlike Celery's process recycling there is no memory to
			// reclaim by dying; the counter exists for log visibility and
			// config parity.
			log.Info("scheduler worker recycling after max tasks", "tasks_handled", tasksHandled)
			tasksHandled = 0
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.sch.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next available job for a registered handler and
// executes it. It returns (false, ErrNoJobAvailable) when nothing is
// claimable, the cue for the caller to back off.
func (w *worker) pollAndProcess(ctx context.Context) (bool, error) {
	names := w.sch.jobNames()
	if len(names) == 0 {
		return false, ErrNoJobAvailable
	}

	job, err := w.sch.store.ClaimNextJob(ctx, names, w.id, w.sch.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNoJobAvailable) {
			return false, ErrNoJobAvailable
		}
		return false, fmt.Errorf("claiming job: %w", err)
	}

	handler, ok := w.sch.handlerFor(job.JobName)
	if !ok {
		// Cannot happen in steady state: ClaimNextJob is scoped to
		// registered names. Treat defensively as a terminal failure so a
		// stray job can't spin forever.
		_ = w.sch.store.FailJob(ctx, job.ID, "no handler registered for job name", w.sch.clock.Now())
		return true, nil
	}

	w.setStatus(workerStatusWorking, job.JobName)
	defer w.setStatus(workerStatusIdle, "")

	correlationID := ""
	if job.CorrelationID != nil {
		correlationID = *job.CorrelationID
	}

	log := slog.With("job_id", job.ID, "job_name", job.JobName, "worker_id", w.id, "correlation_id", correlationID)
	log.Info("job claimed")

	start := w.sch.clock.Now()
	handlerErr := w.execute(ctx, handler, job.Payload, correlationID)
	duration := w.sch.clock.Now().Sub(start)
	w.sch.metrics.ObserveJobDuration(job.JobName, duration)

	if handlerErr == nil {
		if err := w.sch.store.CompleteJob(ctx, job.ID, w.sch.clock.Now()); err != nil {
			log.Error("failed to mark job complete", "error", err)
			return true, err
		}
		w.sch.metrics.IncJobsProcessed(job.JobName, "done")
		w.mu.Lock()
		w.jobsProcessed++
		w.mu.Unlock()
		log.Info("job completed")
		return true, nil
	}

	if errors.Is(handlerErr, xerrors.ErrTransient) {
		delay := w.retryDelay(job.Attempts)
		availableAt := w.sch.clock.Now().Add(delay)
		if err := w.sch.store.RescheduleJob(ctx, job.ID, availableAt, handlerErr.Error(), w.sch.clock.Now()); err != nil {
			log.Error("failed to reschedule job", "error", err)
			return true, err
		}
		w.sch.metrics.IncJobsProcessed(job.JobName, "retried")
		log.Warn("job failed transiently, rescheduled", "delay", delay, "error", handlerErr)
		return true, nil
	}

	if err := w.sch.store.FailJob(ctx, job.ID, handlerErr.Error(), w.sch.clock.Now()); err != nil {
		log.Error("failed to mark job failed", "error", err)
		return true, err
	}
	w.sch.metrics.IncJobsProcessed(job.JobName, "failed")
	log.Error("job failed terminally", "error", handlerErr)
	return true, nil
}

// execute runs the handler under a soft deadline the handler is expected to
// observe via ctx.Done(), and a hard deadline past which this goroutine
// stops awaiting the handler and reports a transient failure so
// at-least-once delivery and orphan detection can recover the job. Go has
// no equivalent of Celery's SIGKILL: an abandoned handler goroutine keeps
// running until it happens to notice ctx.Done() on its own.
func (w *worker) execute(ctx context.Context, h Handler, payload map[string]any, correlationID string) error {
	hardCtx, cancel := context.WithTimeout(ctx, w.sch.config.TaskTimeLimit)
	defer cancel()
	softCtx, cancelSoft := context.WithTimeout(hardCtx, w.sch.config.TaskSoftTimeLimit)
	defer cancelSoft()

	done := make(chan error, 1)
	go func() {
		done <- h(softCtx, payload, correlationID)
	}()

	select {
	case err := <-done:
		return err
	case <-hardCtx.Done():
		return xerrors.Wrap(xerrors.ErrTransient, "scheduler", "handler exceeded hard time limit, abandoning", hardCtx.Err())
	}
}

// retryDelay computes exponential backoff with jitter, capped at
// TaskRetryBackoffMax.
func (w *worker) retryDelay(attempts int) time.Duration {
	base := w.sch.config.TaskRetryDelay
	if base <= 0 {
		base = time.Second
	}
	backoff := base * time.Duration(1<<uint(min(attempts, 10)))
	max := w.sch.config.TaskRetryBackoffMax
	if max > 0 && backoff > max {
		backoff = max
	}
	jitter := time.Duration(rand.Int64N(int64(backoff) / 4 + 1))
	delay := backoff + jitter
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// pollInterval returns the idle poll duration with symmetric jitter.
func (w *worker) pollInterval() time.Duration {
	base := w.sch.config.PollInterval
	jitter := w.sch.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
