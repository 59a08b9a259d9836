package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

const rawPayloadColumns = `id, source_type, source_id, content, content_hash, metadata, status, ingested_at, processed_at`

func scanRawPayload(row pgx.Row) (*RawPayload, error) {
	var p RawPayload
	if err := row.Scan(&p.ID, &p.SourceType, &p.SourceID, &p.Content, &p.ContentHash, &p.Metadata, &p.Status, &p.IngestedAt, &p.ProcessedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindRawPayloadByHash returns the RawPayload with the given content hash, or
// nil if none exists.
func (s *Store) FindRawPayloadByHash(ctx context.Context, hash string) (*RawPayload, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rawPayloadColumns+` FROM raw_payloads WHERE content_hash = $1`, hash)
	p, err := scanRawPayload(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find raw payload by hash: %w", err)
	}
	return p, nil
}

// GetRawPayload returns the RawPayload with the given id.
func (s *Store) GetRawPayload(ctx context.Context, id uuid.UUID) (*RawPayload, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rawPayloadColumns+` FROM raw_payloads WHERE id = $1`, id)
	p, err := scanRawPayload(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.New(xerrors.ErrNotFound, "store", fmt.Sprintf("raw payload %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get raw payload: %w", err)
	}
	return p, nil
}

// InsertRawPayload inserts a brand-new RawPayload in status INGESTED.
func (s *Store) InsertRawPayload(ctx context.Context, tx DBTX, p *RawPayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO raw_payloads (id, source_type, source_id, content, content_hash, metadata, status, ingested_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.SourceType, p.SourceID, p.Content, p.ContentHash, p.Metadata, p.Status, p.IngestedAt, p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("store: insert raw payload: %w", err)
	}
	return nil
}

// UpdateRawPayloadMetadata merges newMetadata into the existing row's
// metadata (new keys win) and fills source_id if the row lacks one and
// sourceID is non-empty. Used by Ingest's dedup path, which never changes
// status.
func (s *Store) UpdateRawPayloadMetadata(ctx context.Context, tx DBTX, id uuid.UUID, newMetadata Metadata, sourceID *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE raw_payloads
		SET metadata = metadata || $2::jsonb,
		    source_id = COALESCE(source_id, $3)
		WHERE id = $1`,
		id, newMetadata, sourceID)
	if err != nil {
		return fmt.Errorf("store: update raw payload metadata: %w", err)
	}
	return nil
}

// SetRawPayloadStatus transitions a raw payload's status and optionally
// stamps processed_at. It does not validate the transition; the pipeline
// handlers check a payload's status with pkg/pipeline.CheckPrecondition
// before dispatching into the stage that calls this.
func (s *Store) SetRawPayloadStatus(ctx context.Context, tx DBTX, id uuid.UUID, status RawPayloadStatus, processedAt *time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE raw_payloads SET status = $2, processed_at = $3 WHERE id = $1`, id, status, processedAt)
	if err != nil {
		return fmt.Errorf("store: set raw payload status: %w", err)
	}
	return nil
}

// ListRawPayloadsByStatus returns raw payloads in the given status, newest
// first, capped at limit. Used by operator tooling and tests.
func (s *Store) ListRawPayloadsByStatus(ctx context.Context, status RawPayloadStatus, limit int) ([]*RawPayload, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+rawPayloadColumns+` FROM raw_payloads WHERE status = $1 ORDER BY ingested_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list raw payloads: %w", err)
	}
	defer rows.Close()

	var out []*RawPayload
	for rows.Next() {
		p, err := scanRawPayload(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan raw payload: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
