package ingest_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/ingest"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func TestIngestIsIdempotent(t *testing.T) {
	fake := storetest.New()
	svc := ingest.New(fake, nil, clock.Frozen{})
	ctx := context.Background()

	content := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}

	id1, err := svc.Ingest(ctx, "deepseek", content, store.Metadata{"a": "1"}, nil)
	require.NoError(t, err)

	id2, err := svc.Ingest(ctx, "deepseek", content, store.Metadata{"b": "2"}, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)

	got, err := fake.GetRawPayload(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Metadata["a"])
	assert.Equal(t, "2", got.Metadata["b"])
	assert.Equal(t, store.RawPayloadStatus("INGESTED"), got.Status)
}

func TestIngestFillsMissingSourceID(t *testing.T) {
	fake := storetest.New()
	svc := ingest.New(fake, nil, clock.Frozen{})
	ctx := context.Background()
	content := "a plain string payload"

	sid := "source-1"
	id, err := svc.Ingest(ctx, "slack", content, nil, &sid)
	require.NoError(t, err)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "source-1", got.Metadata["source_id"])
}

func TestIngestMarkdownExtractsHeading(t *testing.T) {
	fake := storetest.New()
	svc := ingest.New(fake, nil, clock.Frozen{})
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# My Title\n\nsome body text\n"), 0o644))

	id, err := svc.IngestMarkdown(ctx, path)
	require.NoError(t, err)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "My Title", got.Metadata["title"])
	assert.Equal(t, "markdown", got.SourceType)
}

func TestIngestMarkdownFallsBackToFilename(t *testing.T) {
	fake := storetest.New()
	svc := ingest.New(fake, nil, clock.Frozen{})
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "untitled-note.md")
	require.NoError(t, os.WriteFile(path, []byte("no heading here\n"), 0o644))

	id, err := svc.IngestMarkdown(ctx, path)
	require.NoError(t, err)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "untitled-note", got.Metadata["title"])
}
