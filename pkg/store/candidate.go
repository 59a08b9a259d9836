package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const candidateColumns = `id, raw_payload_id, source_entity_id, target_entity_id, score, status, rationale, created_at, metadata`

func scanCandidate(row pgx.Row) (*CorrelationCandidate, error) {
	var c CorrelationCandidate
	if err := row.Scan(&c.ID, &c.RawPayloadID, &c.SourceEntityID, &c.TargetEntityID, &c.Score, &c.Status, &c.Rationale, &c.CreatedAt, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}

// ExistingCandidatePairs returns the set of unordered (source, target)
// entity-id pairs already recorded for rawPayloadID, keyed by a canonical
// "smaller-larger" string so generateCandidates can skip them and stay
// idempotent across reruns.
func (s *Store) ExistingCandidatePairs(ctx context.Context, rawPayloadID uuid.UUID) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_entity_id, target_entity_id FROM correlation_candidates WHERE raw_payload_id = $1`, rawPayloadID)
	if err != nil {
		return nil, fmt.Errorf("store: existing candidate pairs: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var a, b uuid.UUID
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("store: scan candidate pair: %w", err)
		}
		out[PairKey(a, b)] = true
	}
	return out, rows.Err()
}

// PairKey produces an order-independent key for an unordered entity pair.
func PairKey(a, b uuid.UUID) string {
	if a.String() < b.String() {
		return a.String() + ":" + b.String()
	}
	return b.String() + ":" + a.String()
}

// InsertCandidates bulk-inserts candidates inside tx.
func (s *Store) InsertCandidates(ctx context.Context, tx DBTX, candidates []*CorrelationCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candidates {
		batch.Queue(`
			INSERT INTO correlation_candidates (id, raw_payload_id, source_entity_id, target_entity_id, score, status, rationale, created_at, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.RawPayloadID, c.SourceEntityID, c.TargetEntityID, c.Score, c.Status, c.Rationale, c.CreatedAt, c.Metadata)
	}
	br := tx.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range candidates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: insert candidate: %w", err)
		}
	}
	return nil
}

// ListPendingCandidatesForRaw returns every PENDING candidate for
// rawPayloadID, the fusion step's input set.
func (s *Store) ListPendingCandidatesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*CorrelationCandidate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+candidateColumns+` FROM correlation_candidates WHERE raw_payload_id = $1 AND status = $2`, rawPayloadID, CandidatePending)
	if err != nil {
		return nil, fmt.Errorf("store: list pending candidates: %w", err)
	}
	defer rows.Close()

	var out []*CorrelationCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCandidateStatuses bulk-updates candidate statuses inside tx.
func (s *Store) UpdateCandidateStatuses(ctx context.Context, tx DBTX, ids []uuid.UUID, status CandidateStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE correlation_candidates SET status = $2 WHERE id = ANY($1)`, ids, status)
	if err != nil {
		return fmt.Errorf("store: update candidate statuses: %w", err)
	}
	return nil
}
