package analysis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/analysis"
	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func TestLexiconPredictLabels(t *testing.T) {
	lex := analysis.DefaultLexicon()

	pos := lex.Predict("I love this feature")
	assert.Equal(t, "POSITIVE", pos.Label)
	assert.Equal(t, 1, pos.PositiveMatches)

	neg := lex.Predict("I'm sorry, this is terrible and bad")
	assert.Equal(t, "NEGATIVE", neg.Label)

	neutral := lex.Predict("the quick brown fox")
	assert.Equal(t, "NEUTRAL", neutral.Label)
	assert.Equal(t, 0.0, neutral.Score)
}

func seedRawWithTurns(t *testing.T, fake *storetest.Fake, texts []string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("NORMALIZED"), IngestedAt: time.Now(),
		})
	}))

	conv := uuid.New()
	var turns []*store.ConversationTurn
	for i, text := range texts {
		turns = append(turns, &store.ConversationTurn{
			ID: uuid.New(), RawPayloadID: &rawID, ConversationID: conv,
			TurnIndex: i, Speaker: "USER", Text: text, Timestamp: time.Now(),
		})
	}
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertTurns(ctx, tx, turns)
	}))
	return rawID
}

func TestAnalyzeProducesSentimentEntities(t *testing.T) {
	fake := storetest.New()
	svc := analysis.New(fake, nil, clock.System{}, nil)
	ctx := context.Background()

	rawID := seedRawWithTurns(t, fake, []string{"I love this feature", "I'm sorry to hear that"})

	count, err := svc.Analyze(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entities, err := fake.ListSentimentEntitiesForRaw(ctx, rawID)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "POSITIVE", entities[0].Entity.Value)
	assert.Equal(t, "NEGATIVE", entities[1].Entity.Value)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("ANALYZED"), got.Status)
}

func TestAnalyzeNoTurnsFails(t *testing.T) {
	fake := storetest.New()
	svc := analysis.New(fake, nil, clock.System{}, nil)
	ctx := context.Background()

	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("NORMALIZED"), IngestedAt: time.Now(),
		})
	}))

	_, err := svc.Analyze(ctx, rawID)
	require.Error(t, err)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("ANALYSIS_FAILED"), got.Status)
}
