package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/scheduler"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

func fastConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.WorkerConcurrency = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.TaskSoftTimeLimit = time.Second
	cfg.TaskTimeLimit = 2 * time.Second
	cfg.TaskRetryDelay = 5 * time.Millisecond
	cfg.OrphanDetectionInterval = 20 * time.Millisecond
	cfg.OrphanThreshold = 50 * time.Millisecond
	return cfg
}

func TestSchedulerProcessesSubmittedJob(t *testing.T) {
	fake := storetest.New()
	sch := scheduler.New(fake, fastConfig(), clock.System{}, "pod-1", nil)

	var handled atomic.Bool
	var gotPayload store.Metadata
	var mu sync.Mutex
	sch.Register("ingest_raw_payload", func(ctx context.Context, payload store.Metadata, correlationID string) error {
		mu.Lock()
		gotPayload = payload
		mu.Unlock()
		handled.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sch.Run(ctx))
	defer sch.Stop()

	require.NoError(t, sch.Submit(context.Background(), "ingest_raw_payload", store.Metadata{"k": "v"}, "corr-1"))

	require.Eventually(t, handled.Load, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, store.Metadata{"k": "v"}, gotPayload)
	mu.Unlock()
}

func TestSchedulerRetriesTransientFailureThenSucceeds(t *testing.T) {
	fake := storetest.New()
	sch := scheduler.New(fake, fastConfig(), clock.System{}, "pod-1", nil)

	var attempts atomic.Int32
	done := make(chan struct{})
	sch.Register("flaky_job", func(ctx context.Context, payload store.Metadata, correlationID string) error {
		n := attempts.Add(1)
		if n == 1 {
			return xerrors.New(xerrors.ErrTransient, "test", "temporary glitch")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sch.Run(ctx))
	defer sch.Stop()

	require.NoError(t, sch.Submit(context.Background(), "flaky_job", store.Metadata{}, ""))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flaky job never succeeded on retry")
	}
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestSchedulerMarksPermanentFailureTerminal(t *testing.T) {
	fake := storetest.New()
	sch := scheduler.New(fake, fastConfig(), clock.System{}, "pod-1", nil)

	sch.Register("doomed_job", func(ctx context.Context, payload store.Metadata, correlationID string) error {
		return errors.New("unrecoverable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sch.Run(ctx))

	require.NoError(t, sch.Submit(context.Background(), "doomed_job", store.Metadata{}, ""))

	require.Eventually(t, func() bool {
		n, err := fake.CountJobsByStatus(context.Background(), store.JobFailed)
		return err == nil && n == 1
	}, time.Second, 5*time.Millisecond)

	sch.Stop()
}

func TestSchedulerHealthReportsQueueDepth(t *testing.T) {
	fake := storetest.New()
	sch := scheduler.New(fake, fastConfig(), clock.System{}, "pod-1", nil)
	sch.Register("noop_job", func(ctx context.Context, payload store.Metadata, correlationID string) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	require.NoError(t, sch.Submit(context.Background(), "noop_job", store.Metadata{}, ""))

	h := sch.Health(context.Background())
	assert.Equal(t, 1, h.QueueDepth)
	assert.False(t, h.IsHealthy) // not started yet, no workers
}
