package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertRelationships bulk-inserts relationships inside tx.
func (s *Store) InsertRelationships(ctx context.Context, tx DBTX, rels []*Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rels {
		batch.Queue(`
			INSERT INTO relationships (id, source_entity_id, target_entity_id, type, strength, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.SourceEntityID, r.TargetEntityID, r.Type, r.Strength, r.Metadata)
	}
	br := tx.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range rels {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: insert relationship: %w", err)
		}
	}
	return nil
}

// CountRelationshipsForRaw reports how many relationships exist whose source
// entity belongs to a turn of rawPayloadID.
func (s *Store) CountRelationshipsForRaw(ctx context.Context, rawPayloadID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM relationships r
		JOIN entities e ON e.id = r.source_entity_id
		JOIN conversation_turns t ON t.id = e.conversation_turn_id
		WHERE t.raw_payload_id = $1`, rawPayloadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count relationships: %w", err)
	}
	return count, nil
}

// ListRelationshipsForRaw returns every relationship produced from entities
// of rawPayloadID, used by the fusion step to decide whether a run with no
// new confirmations ends in CORRELATION_REVIEWED.
func (s *Store) ListRelationshipsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*Relationship, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.source_entity_id, r.target_entity_id, r.type, r.strength, r.metadata
		FROM relationships r
		JOIN entities e ON e.id = r.source_entity_id
		JOIN conversation_turns t ON t.id = e.conversation_turn_id
		WHERE t.raw_payload_id = $1`, rawPayloadID)
	if err != nil {
		return nil, fmt.Errorf("store: list relationships: %w", err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.Type, &r.Strength, &r.Metadata); err != nil {
			return nil, fmt.Errorf("store: scan relationship: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
