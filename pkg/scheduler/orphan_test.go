package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/scheduler"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

// TestOrphanDetectionRecoversStaleJob seeds an IN_PROGRESS job with a stale
// lock directly in the fake store (simulating a worker that crashed
// mid-handler) and verifies the scheduler's background scan reschedules it
// without any handler ever running.
func TestOrphanDetectionRecoversStaleJob(t *testing.T) {
	fake := storetest.New()
	cfg := fastTestConfig()

	now := time.Now().UTC()
	stale := &store.Job{
		ID:          uuid.New(),
		JobName:     "normalize_raw_payload",
		Payload:     store.Metadata{},
		Status:      store.JobPending,
		AvailableAt: now.Add(-time.Hour),
		CreatedAt:   now.Add(-time.Hour),
		UpdatedAt:   now.Add(-time.Hour),
	}
	require.NoError(t, fake.EnqueueJob(context.Background(), stale))
	// Claim the job as a worker that then "crashed": the claim stamps
	// locked_at an hour in the past, well past the orphan threshold.
	_, err := fake.ClaimNextJob(context.Background(), []string{"normalize_raw_payload"}, "dead-worker", now.Add(-time.Hour))
	require.NoError(t, err)

	sch := scheduler.New(fake, cfg, clock.System{}, "pod-1", nil)
	sch.Register("normalize_raw_payload", func(ctx context.Context, payload store.Metadata, correlationID string) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sch.Run(ctx))
	defer sch.Stop()

	require.Eventually(t, func() bool {
		h := sch.Health(context.Background())
		return h.OrphansRecovered > 0
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		n, err := fake.CountJobsByStatus(context.Background(), store.JobDone)
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)
}

func fastTestConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.WorkerConcurrency = 1
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.OrphanDetectionInterval = 10 * time.Millisecond
	cfg.OrphanThreshold = time.Millisecond
	return cfg
}
