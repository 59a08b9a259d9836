package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertTrackerRun persists a TrackerRun started by the in-process Tracker
// sink, giving every run a queryable record independent of the configured
// backend (file or HTTP).
func (s *Store) InsertTrackerRun(ctx context.Context, r *TrackerRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracker_runs (run_id, run_name, tags, params, metrics, artifacts, status, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.RunID, r.RunName, r.Tags, r.Params, r.Metrics, r.Artifacts, r.Status, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("store: insert tracker run: %w", err)
	}
	return nil
}

// UpdateTrackerRun overwrites params/metrics/artifacts/status/ended_at for an
// existing run, used when a stage logs additional metrics as it progresses.
func (s *Store) UpdateTrackerRun(ctx context.Context, r *TrackerRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tracker_runs
		SET tags = $2, params = $3, metrics = $4, artifacts = $5, status = $6, ended_at = $7
		WHERE run_id = $1`,
		r.RunID, r.Tags, r.Params, r.Metrics, r.Artifacts, r.Status, r.EndedAt)
	if err != nil {
		return fmt.Errorf("store: update tracker run: %w", err)
	}
	return nil
}

// GetTrackerRun returns a run by id, used by tests and operator tooling to
// verify what a stage reported.
func (s *Store) GetTrackerRun(ctx context.Context, id uuid.UUID) (*TrackerRun, error) {
	var r TrackerRun
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, run_name, tags, params, metrics, artifacts, status, started_at, ended_at
		FROM tracker_runs WHERE run_id = $1`, id).
		Scan(&r.RunID, &r.RunName, &r.Tags, &r.Params, &r.Metrics, &r.Artifacts, &r.Status, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("store: get tracker run: %w", err)
	}
	return &r, nil
}
