package correlate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/correlate"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

func seedRaw(t *testing.T, fake *storetest.Fake) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("ANALYZED"), IngestedAt: time.Now(),
		})
	}))
	return rawID
}

func seedSentimentTurn(t *testing.T, fake *storetest.Fake, rawID uuid.UUID, label string, relevance float64) {
	t.Helper()
	ctx := context.Background()
	turn := &store.ConversationTurn{
		ID: uuid.New(), RawPayloadID: &rawID, ConversationID: uuid.New(),
		TurnIndex: 0, Speaker: "USER", Text: "hello", Timestamp: time.Now(),
	}
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertTurns(ctx, tx, []*store.ConversationTurn{turn})
	}))
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertEntities(ctx, tx, []*store.Entity{{
			ID: uuid.New(), ConversationTurnID: turn.ID, Type: "SENTIMENT",
			Value: label, Sentiment: label, Relevance: relevance,
		}})
	}))
}

func TestGenerateCandidatesCreatesScoredPairs(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.9)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.95)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.85)

	count, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("CORRELATION_GENERATED"), got.Status)

	pending, err := fake.ListPendingCandidatesForRaw(ctx, rawID)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestGenerateCandidatesIsIdempotent(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)
	seedSentimentTurn(t, fake, rawID, "NEGATIVE", 0.5)
	seedSentimentTurn(t, fake, rawID, "NEGATIVE", 0.5)

	first, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestGenerateCandidatesSkippedWithoutSentimentEntities(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)

	_, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.Error(t, err)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("CORRELATION_SKIPPED"), got.Status)
}

func TestFuseCandidatesConfirmsAboveThreshold(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.9)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.95)

	_, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.NoError(t, err)

	counts, err := svc.FuseCandidates(ctx, rawID, correlate.DefaultFuseMinScore)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Confirmed)
	assert.Equal(t, 0, counts.Rejected)

	rels, err := fake.ListRelationshipsForRaw(ctx, rawID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "SENTIMENT_LINK", rels[0].Type)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("CORRELATED"), got.Status)
}

func TestFuseCandidatesReviewedWhenNoneConfirmedAndNoPriorRelationships(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.1)
	seedSentimentTurn(t, fake, rawID, "POSITIVE", 0.95)

	_, err := svc.GenerateCandidates(ctx, rawID, correlate.DefaultGenerateMinScore)
	require.NoError(t, err)

	counts, err := svc.FuseCandidates(ctx, rawID, correlate.DefaultFuseMinScore)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Confirmed)
	assert.Equal(t, 1, counts.Rejected)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("CORRELATION_REVIEWED"), got.Status)
}

func TestFuseCandidatesNoPendingIsNotAnError(t *testing.T) {
	fake := storetest.New()
	svc := correlate.New(fake, clock.System{}, nil, nil)
	ctx := context.Background()

	rawID := seedRaw(t, fake)

	counts, err := svc.FuseCandidates(ctx, rawID, correlate.DefaultFuseMinScore)
	require.NoError(t, err)
	assert.Equal(t, correlate.FusionCounts{}, counts)

	got, err := fake.GetRawPayload(ctx, rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("ANALYZED"), got.Status)
}
