// Package ingest accepts raw conversational payloads, deduplicating them by
// content fingerprint so repeated submissions of the same logical payload
// never create a second RawPayload row.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/canon"
	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Store is the persistence surface Ingest needs, satisfied by *store.Store
// and by pkg/store/storetest.Fake.
type Store interface {
	FindRawPayloadByHash(ctx context.Context, hash string) (*store.RawPayload, error)
	UpdateRawPayloadMetadata(ctx context.Context, tx store.DBTX, id uuid.UUID, newMetadata store.Metadata, sourceID *string) error
	InsertRawPayload(ctx context.Context, tx store.DBTX, p *store.RawPayload) error
	Txn(ctx context.Context, fn func(tx store.DBTX) error) error
}

// Scheduler lets Ingest enqueue the next pipeline stage; nil is a valid,
// no-op scheduler for callers (tests, the CLI) that drive stages manually.
type Scheduler interface {
	Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error
}

// Service implements idempotent ingest.
type Service struct {
	Store     Store
	Scheduler Scheduler
	Clock     clock.Clock
}

// New builds a Service. scheduler may be nil.
func New(st Store, scheduler Scheduler, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{Store: st, Scheduler: scheduler, Clock: clk}
}

// Ingest canonicalises content, dedups by fingerprint, and returns the
// RawPayload id, existing or newly created. It never mutates status on the
// dedup path.
func (s *Service) Ingest(ctx context.Context, sourceType string, content any, metadata store.Metadata, sourceID *string) (uuid.UUID, error) {
	serialized, err := serializeContent(content)
	if err != nil {
		return uuid.Nil, xerrors.Wrap(xerrors.ErrArgument, "ingest", "content is not JSON-serialisable", err)
	}

	canonical, err := canon.Canonicalise(serialized)
	if err != nil {
		return uuid.Nil, xerrors.Wrap(xerrors.ErrArgument, "ingest", "failed to canonicalise content", err)
	}
	hash := canon.Fingerprint(canonical)

	existing, err := s.Store.FindRawPayloadByHash(ctx, hash)
	if err != nil {
		return uuid.Nil, xerrors.Wrap(xerrors.ErrTransient, "ingest", "dedup lookup failed", err)
	}
	if existing != nil {
		if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.UpdateRawPayloadMetadata(ctx, tx, existing.ID, metadata, sourceID)
		}); err != nil {
			return uuid.Nil, xerrors.Wrap(xerrors.ErrTransient, "ingest", "metadata merge failed", err)
		}
		return existing.ID, nil
	}

	merged := store.Metadata{}
	for k, v := range metadata {
		merged[k] = v
	}
	if sourceID != nil && *sourceID != "" {
		if _, ok := merged["source_id"]; !ok {
			merged["source_id"] = *sourceID
		}
	}

	p := &store.RawPayload{
		ID:          uuid.New(),
		SourceType:  sourceType,
		SourceID:    sourceID,
		Content:     canonical,
		ContentHash: hash,
		Metadata:    merged,
		Status:      store.RawPayloadStatus("INGESTED"),
		IngestedAt:  s.Clock.Now(),
	}
	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		return s.Store.InsertRawPayload(ctx, tx, p)
	}); err != nil {
		return uuid.Nil, xerrors.Wrap(xerrors.ErrTransient, "ingest", "insert raw payload failed", err)
	}

	if s.Scheduler != nil {
		_ = s.Scheduler.Submit(ctx, "normalize", store.Metadata{"raw_payload_id": p.ID.String()}, uuid.NewString())
	}

	return p.ID, nil
}

// serializeContent applies the "strings pass through, everything else is
// JSON-marshalled" rule, rejecting values json.Marshal cannot encode.
func serializeContent(content any) (any, error) {
	if s, ok := content.(string); ok {
		return s, nil
	}
	if _, err := json.Marshal(content); err != nil {
		return nil, err
	}
	return content, nil
}

// IngestMarkdown reads a markdown file and ingests it as a single-message
// payload: the first "#" heading (or the base filename) becomes the title,
// source_platform is "markdown".
func (s *Service) IngestMarkdown(ctx context.Context, path string) (uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return uuid.Nil, xerrors.Wrap(xerrors.ErrArgument, "ingest", "failed to read markdown file", err)
	}
	text := string(raw)

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			break
		}
	}

	payload := map[string]any{
		"source_platform": "markdown",
		"title":           title,
		"messages": []map[string]any{
			{
				"role":      "user",
				"content":   text,
				"timestamp": s.Clock.Now().Format(time.RFC3339),
			},
		},
	}

	return s.Ingest(ctx, "markdown", payload, store.Metadata{"title": title}, nil)
}
