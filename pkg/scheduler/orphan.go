package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// runOrphanDetection periodically scans for jobs left IN_PROGRESS by a
// worker that died mid-handler, and reopens them for retry. Every process
// running a Scheduler performs this scan independently; recovery is
// idempotent, so concurrent scans from multiple processes are harmless.
func (s *Scheduler) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(s.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans reschedules every IN_PROGRESS job whose lock is
// older than OrphanThreshold, treating the reschedule as a transient-failure
// retry (no handler ever ran to completion, so attempts is not trusted).
func (s *Scheduler) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := s.clock.Now().Add(-s.config.OrphanThreshold)

	orphans, err := s.store.ListOrphanedJobs(ctx, threshold)
	if err != nil {
		return err
	}

	if len(orphans) == 0 {
		s.orphans.mu.Lock()
		s.orphans.lastScan = s.clock.Now()
		s.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned jobs", "count", len(orphans))

	recovered := 0
	for _, j := range orphans {
		lockedBy := "unknown"
		if j.LockedBy != nil {
			lockedBy = *j.LockedBy
		}
		msg := "orphaned: worker " + lockedBy + " stopped reporting progress"
		if err := s.store.RescheduleJob(ctx, j.ID, s.clock.Now(), msg, s.clock.Now()); err != nil {
			slog.Error("failed to recover orphaned job", "job_id", j.ID, "error", err)
			continue
		}
		recovered++
	}

	s.orphans.mu.Lock()
	s.orphans.lastScan = s.clock.Now()
	s.orphans.recovered += recovered
	s.orphans.mu.Unlock()

	slog.Info("orphan recovery complete", "total", len(orphans), "recovered", recovered)
	return nil
}
