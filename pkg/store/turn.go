package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const turnColumns = `id, raw_payload_id, conversation_id, turn_index, speaker, text, "timestamp", metadata`

func scanTurn(row pgx.Row) (*ConversationTurn, error) {
	var t ConversationTurn
	if err := row.Scan(&t.ID, &t.RawPayloadID, &t.ConversationID, &t.TurnIndex, &t.Speaker, &t.Text, &t.Timestamp, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTurns bulk-inserts turns inside tx, preserving turn_index order. The
// (conversation_id, turn_index) unique constraint is the source of truth for
// idempotent replays: a duplicate insert fails the whole transaction rather
// than silently double-writing.
func (s *Store) InsertTurns(ctx context.Context, tx DBTX, turns []*ConversationTurn) error {
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`
			INSERT INTO conversation_turns (id, raw_payload_id, conversation_id, turn_index, speaker, text, "timestamp", metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.RawPayloadID, t.ConversationID, t.TurnIndex, t.Speaker, t.Text, t.Timestamp, t.Metadata)
	}
	br := tx.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range turns {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: insert turn: %w", err)
		}
	}
	return nil
}

// StreamTurnsForRaw streams every turn belonging to rawPayloadID in
// (conversation_id, turn_index) order, invoking fn for each one. It uses a
// single server-side cursor via pgx.Rows rather than materialising the whole
// result set, so the analyser can process arbitrarily large conversations in
// bounded memory while still flushing in logical chunks upstream.
func (s *Store) StreamTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID, fn func(*ConversationTurn) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT `+turnColumns+`
		FROM conversation_turns
		WHERE raw_payload_id = $1
		ORDER BY conversation_id, turn_index`, rawPayloadID)
	if err != nil {
		return fmt.Errorf("store: stream turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return fmt.Errorf("store: scan turn: %w", err)
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ListTurnsForRaw loads every turn for rawPayloadID into memory, used by the
// exporter which needs the full conversation to render a file.
func (s *Store) ListTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*ConversationTurn, error) {
	var out []*ConversationTurn
	err := s.StreamTurnsForRaw(ctx, rawPayloadID, func(t *ConversationTurn) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

// SearchTurnsByTokens returns turns whose text ILIKE-matches any of tokens,
// ordered by timestamp descending and capped at limit. This is the candidate
// fetch for hybrid search; ranking happens in pkg/search.
func (s *Store) SearchTurnsByTokens(ctx context.Context, tokens []string, limit int) ([]*ConversationTurn, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	conditions := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for i, tok := range tokens {
		args = append(args, "%"+tok+"%")
		conditions = append(conditions, fmt.Sprintf("text ILIKE $%d", i+1))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM conversation_turns
		WHERE %s
		ORDER BY "timestamp" DESC
		LIMIT $%d`, turnColumns, joinOr(conditions), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search turns: %w", err)
	}
	defer rows.Close()

	var out []*ConversationTurn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func joinOr(conditions []string) string {
	out := ""
	for i, c := range conditions {
		if i > 0 {
			out += " OR "
		}
		out += c
	}
	return out
}
