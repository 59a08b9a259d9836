package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/export"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func seedRaw(t *testing.T, fake *storetest.Fake, title string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("ANALYZED"), IngestedAt: time.Now(),
			Metadata: store.Metadata{"title": title},
		})
	}))

	conv := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	turns := []*store.ConversationTurn{
		{ID: uuid.New(), RawPayloadID: &rawID, ConversationID: conv, TurnIndex: 0, Speaker: "USER", Text: "I love this feature", Timestamp: base},
		{ID: uuid.New(), RawPayloadID: &rawID, ConversationID: conv, TurnIndex: 1, Speaker: "ASSISTANT", Text: "I'm sorry to hear that", Timestamp: base.Add(5 * time.Second)},
	}
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertTurns(ctx, tx, turns)
	}))
	return rawID, conv
}

func TestExportWritesDeterministicFile(t *testing.T) {
	fake := storetest.New()
	frozen := clock.Frozen{At: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := export.New(fake, frozen, nil)
	ctx := context.Background()

	rawID, _ := seedRaw(t, fake, "My Conversation")
	dir := t.TempDir()

	paths, err := svc.Export(ctx, rawID, dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(dir, "my-conversation.md"), paths[0])

	content, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	contentA, err := svc.Export(ctx, rawID, t.TempDir())
	require.NoError(t, err)
	contentB, err := os.ReadFile(contentA[0])
	require.NoError(t, err)
	assert.Equal(t, string(content), string(contentB))

	text := string(content)
	assert.Contains(t, text, "---\n")
	assert.Contains(t, text, "raw_data_id: "+rawID.String())
	assert.Contains(t, text, "title: My Conversation")
	assert.Contains(t, text, `exported_at: "2026-01-01T12:00:00Z"`)
	assert.Contains(t, text, "# My Conversation")
	assert.Contains(t, text, "## User - turn 0")
	assert.Contains(t, text, "## Assistant - turn 1")
	assert.Contains(t, text, "I love this feature")
}

func TestExportFallsBackToRawIDSlug(t *testing.T) {
	fake := storetest.New()
	svc := export.New(fake, clock.System{}, nil)
	ctx := context.Background()

	rawID, _ := seedRaw(t, fake, "!!!")
	dir := t.TempDir()

	paths, err := svc.Export(ctx, rawID, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, strReplaceDashes(rawID.String())+".md"), paths[0])
}

func TestExportNoTurnsFails(t *testing.T) {
	fake := storetest.New()
	svc := export.New(fake, clock.System{}, nil)
	ctx := context.Background()

	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("ANALYZED"), IngestedAt: time.Now(),
		})
	}))

	_, err := svc.Export(ctx, rawID, t.TempDir())
	require.Error(t, err)
}

func strReplaceDashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
