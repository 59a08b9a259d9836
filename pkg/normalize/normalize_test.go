package normalize_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/normalize"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func seedRawPayload(t *testing.T, fake *storetest.Fake, content string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: id, SourceType: "deepseek", Content: content, ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("INGESTED"), IngestedAt: time.Now(),
		})
	}))
	return id
}

func TestNormalizeSingleConversationTwoTurns(t *testing.T) {
	fake := storetest.New()
	svc := normalize.New(fake, clock.System{}, nil)
	ctx := context.Background()

	content := `{"source_id":"s1","messages":[
		{"role":"user","content":"I love this feature","timestamp":"2025-01-01T00:00:00Z"},
		{"role":"assistant","content":"I'm sorry to hear that","timestamp":"2025-01-01T00:00:05Z"}
	]}`
	id := seedRawPayload(t, fake, content)

	count, err := svc.Normalize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	turns, err := fake.ListTurnsForRaw(ctx, id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, 0, turns[0].TurnIndex)
	assert.Equal(t, 1, turns[1].TurnIndex)
	assert.Equal(t, "USER", turns[0].Speaker)
	assert.Equal(t, "I love this feature", turns[0].Text)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("NORMALIZED"), got.Status)
}

func TestNormalizeDeterministicConversationID(t *testing.T) {
	fake := storetest.New()
	svc := normalize.New(fake, clock.System{}, nil)
	ctx := context.Background()

	content := `{"source_id":"stable-source","messages":[{"role":"user","content":"hi"}]}`
	id1 := seedRawPayload(t, fake, content)
	_, err := svc.Normalize(ctx, id1)
	require.NoError(t, err)
	turns1, _ := fake.ListTurnsForRaw(ctx, id1)

	id2 := seedRawPayload(t, fake, content)
	_, err = svc.Normalize(ctx, id2)
	require.NoError(t, err)
	turns2, _ := fake.ListTurnsForRaw(ctx, id2)

	assert.Equal(t, turns1[0].ConversationID, turns2[0].ConversationID)
}

func TestNormalizeNestedConversationsInheritMetadata(t *testing.T) {
	fake := storetest.New()
	svc := normalize.New(fake, clock.System{}, nil)
	ctx := context.Background()

	content := `{"source_platform":"deepseek","conversations":[
		{"source_id":"conv-a","messages":[{"role":"user","content":"a"}]},
		{"source_id":"conv-b","messages":[{"role":"user","content":"b"}]}
	]}`
	id := seedRawPayload(t, fake, content)

	count, err := svc.Normalize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	turns, err := fake.ListTurnsForRaw(ctx, id)
	require.NoError(t, err)
	for _, turn := range turns {
		assert.Equal(t, "deepseek", turn.Metadata["source_platform"])
	}
}

func TestNormalizeMalformedJSONFails(t *testing.T) {
	fake := storetest.New()
	svc := normalize.New(fake, clock.System{}, nil)
	ctx := context.Background()

	id := seedRawPayload(t, fake, `{`)

	_, err := svc.Normalize(ctx, id)
	require.Error(t, err)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("FAILED"), got.Status)

	turns, err := fake.ListTurnsForRaw(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestNormalizeNoConversationsFails(t *testing.T) {
	fake := storetest.New()
	svc := normalize.New(fake, clock.System{}, nil)
	ctx := context.Background()

	id := seedRawPayload(t, fake, `{"foo":"bar"}`)

	_, err := svc.Normalize(ctx, id)
	require.Error(t, err)

	got, err := fake.GetRawPayload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("FAILED"), got.Status)
}
