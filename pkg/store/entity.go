package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const entityColumns = `id, conversation_turn_id, type, value, sentiment, relevance, metadata`

func scanEntity(row pgx.Row) (*Entity, error) {
	var e Entity
	if err := row.Scan(&e.ID, &e.ConversationTurnID, &e.Type, &e.Value, &e.Sentiment, &e.Relevance, &e.Metadata); err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertEntities bulk-inserts entities inside tx. Analysis flushes in
// batches of up to 100.
func (s *Store) InsertEntities(ctx context.Context, tx DBTX, entities []*Entity) error {
	if len(entities) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entities {
		batch.Queue(`
			INSERT INTO entities (id, conversation_turn_id, type, value, sentiment, relevance, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.ConversationTurnID, e.Type, e.Value, e.Sentiment, e.Relevance, e.Metadata)
	}
	br := tx.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range entities {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: insert entity: %w", err)
		}
	}
	return nil
}

// EntityWithTurn pairs an entity with the turn it annotates, the unit the
// correlator reasons over.
type EntityWithTurn struct {
	Entity Entity
	Turn   ConversationTurn
}

// ListSentimentEntitiesForRaw loads every SENTIMENT entity attached to a
// turn of rawPayloadID, joined with its turn.
func (s *Store) ListSentimentEntitiesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]EntityWithTurn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.conversation_turn_id, e.type, e.value, e.sentiment, e.relevance, e.metadata,
		       t.id, t.raw_payload_id, t.conversation_id, t.turn_index, t.speaker, t.text, t."timestamp", t.metadata
		FROM entities e
		JOIN conversation_turns t ON t.id = e.conversation_turn_id
		WHERE t.raw_payload_id = $1 AND e.type = 'SENTIMENT'
		ORDER BY t.conversation_id, t.turn_index`, rawPayloadID)
	if err != nil {
		return nil, fmt.Errorf("store: list sentiment entities: %w", err)
	}
	defer rows.Close()

	var out []EntityWithTurn
	for rows.Next() {
		var ew EntityWithTurn
		if err := rows.Scan(
			&ew.Entity.ID, &ew.Entity.ConversationTurnID, &ew.Entity.Type, &ew.Entity.Value, &ew.Entity.Sentiment, &ew.Entity.Relevance, &ew.Entity.Metadata,
			&ew.Turn.ID, &ew.Turn.RawPayloadID, &ew.Turn.ConversationID, &ew.Turn.TurnIndex, &ew.Turn.Speaker, &ew.Turn.Text, &ew.Turn.Timestamp, &ew.Turn.Metadata,
		); err != nil {
			return nil, fmt.Errorf("store: scan sentiment entity: %w", err)
		}
		out = append(out, ew)
	}
	return out, rows.Err()
}

// ListEntitiesByTurnIDs batch-looks-up the SENTIMENT entity (if any) for each
// turn id, used by search result annotation so it runs as one query instead
// of one per result.
func (s *Store) ListEntitiesByTurnIDs(ctx context.Context, turnIDs []uuid.UUID) (map[uuid.UUID]*Entity, error) {
	if len(turnIDs) == 0 {
		return map[uuid.UUID]*Entity{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM entities WHERE conversation_turn_id = ANY($1) AND type = 'SENTIMENT'`, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("store: list entities by turn ids: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Entity, len(turnIDs))
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan entity: %w", err)
		}
		out[e.ConversationTurnID] = e
	}
	return out, rows.Err()
}
