package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

// Scheduler registers named job handlers, enqueues jobs for them, and runs a
// pool of worker goroutines that claim and execute jobs against Store.
type Scheduler struct {
	store   Store
	config  Config
	clock   clock.Clock
	podID   string
	metrics *Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	orphans orphanState
}

// New builds a Scheduler. podID identifies this process for job-lock
// bookkeeping so orphan recovery can tell whose claims went stale. metrics
// may be nil to disable Prometheus instrumentation.
func New(st Store, cfg Config, clk clock.Clock, podID string, metrics *Metrics) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Scheduler{
		store:    st,
		config:   cfg,
		clock:    clk,
		podID:    podID,
		metrics:  metrics,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// Register associates jobName with a handler. Registration must happen
// before Run. ClaimNextJob is scoped to registered names; a claimed job
// whose name has no handler is failed terminally by the worker.
func (s *Scheduler) Register(jobName string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobName] = h
}

// Submit enqueues a new job, available immediately. This is the sole
// mechanism every pipeline stage (and the ingest/feedback entry points) uses
// to hand work to the worker pool; it never blocks on the job completing.
func (s *Scheduler) Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error {
	now := s.clock.Now()
	var corrID *string
	if correlationID != "" {
		corrID = &correlationID
	}
	j := &store.Job{
		ID:            uuid.New(),
		JobName:       jobName,
		Payload:       payload,
		CorrelationID: corrID,
		Status:        store.JobPending,
		AvailableAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.EnqueueJob(ctx, j); err != nil {
		return fmt.Errorf("scheduler: submit %s: %w", jobName, err)
	}
	return nil
}

// jobNames returns the currently registered job names, the claim scope
// passed to ClaimNextJob so a worker never picks up a job this process
// cannot handle.
func (s *Scheduler) jobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) handlerFor(jobName string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[jobName]
	return h, ok
}

// Run starts WorkerConcurrency worker goroutines plus the orphan-detection
// loop. It is safe to call only once; subsequent calls are no-ops.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.started {
		slog.Warn("scheduler already started, ignoring duplicate Run call", "pod_id", s.podID)
		return nil
	}
	s.started = true

	slog.Info("starting scheduler", "pod_id", s.podID, "worker_concurrency", s.config.WorkerConcurrency)

	for i := 0; i < s.config.WorkerConcurrency; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", s.podID, i), s)
		s.workers = append(s.workers, w)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(ctx)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOrphanDetection(ctx)
	}()

	return nil
}

// Stop signals every worker and the orphan loop to finish and waits for
// them. Workers finish their current job before exiting (graceful
// shutdown); it does not cancel in-flight handler contexts.
func (s *Scheduler) Stop() {
	slog.Info("stopping scheduler gracefully", "pod_id", s.podID)
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("scheduler stopped", "pod_id", s.podID)
}

// Health reports current worker and queue status for a debug endpoint.
func (s *Scheduler) Health(ctx context.Context) Health {
	pending, err := s.store.CountJobsByStatus(ctx, store.JobPending)
	if err != nil {
		slog.Error("failed to count pending jobs for health check", "error", err)
	}

	stats := make([]WorkerHealth, len(s.workers))
	active := 0
	for i, w := range s.workers {
		stats[i] = w.health()
		if stats[i].Status == string(workerStatusWorking) {
			active++
		}
	}

	s.orphans.mu.Lock()
	lastScan := s.orphans.lastScan
	recovered := s.orphans.recovered
	s.orphans.mu.Unlock()

	return Health{
		IsHealthy:        len(s.workers) > 0,
		ActiveWorkers:    active,
		TotalWorkers:     len(s.workers),
		QueueDepth:       pending,
		WorkerStats:      stats,
		LastOrphanScan:   lastScan,
		OrphansRecovered: recovered,
	}
}

// orphanState tracks orphan-detection metrics, thread-safe for concurrent
// Health() reads.
type orphanState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}
