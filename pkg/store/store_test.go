//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/internal/testutil"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
)

func TestRawPayloadDedupRoundTrip(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	p := &store.RawPayload{
		ID:          uuid.New(),
		SourceType:  "slack",
		Content:     `{"a":1}`,
		ContentHash: "deadbeef",
		Metadata:    store.Metadata{"k": "v"},
		Status:      store.RawPayloadStatus("INGESTED"),
		IngestedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.Txn(ctx, func(tx store.DBTX) error {
		return st.InsertRawPayload(ctx, tx, p)
	}))

	found, err := st.FindRawPayloadByHash(ctx, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)

	missing, err := st.FindRawPayloadByHash(ctx, "not-there")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJobClaimSkipsLocked(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := &store.Job{
		ID:          uuid.New(),
		JobName:     "normalize",
		Payload:     store.Metadata{"raw_payload_id": uuid.New().String()},
		Status:      store.JobPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.EnqueueJob(ctx, j))

	claimed, err := st.ClaimNextJob(ctx, []string{"normalize"}, "worker-1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, store.JobInProgress, claimed.Status)

	_, err = st.ClaimNextJob(ctx, []string{"normalize"}, "worker-2", now)
	assert.ErrorIs(t, err, store.ErrNoJobAvailable)

	require.NoError(t, st.CompleteJob(ctx, claimed.ID, now))
	count, err := st.CountJobsByStatus(ctx, store.JobDone)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTurnsStreamInOrder(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rawID := uuid.New()
	require.NoError(t, st.Txn(ctx, func(tx store.DBTX) error {
		return st.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "slack", Content: "{}", ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus("INGESTED"), IngestedAt: now,
		})
	}))

	conv := uuid.New()
	turns := []*store.ConversationTurn{
		{ID: uuid.New(), RawPayloadID: &rawID, ConversationID: conv, TurnIndex: 1, Speaker: "user", Text: "hi", Timestamp: now},
		{ID: uuid.New(), RawPayloadID: &rawID, ConversationID: conv, TurnIndex: 0, Speaker: "user", Text: "hello", Timestamp: now},
	}
	require.NoError(t, st.Txn(ctx, func(tx store.DBTX) error {
		return st.InsertTurns(ctx, tx, turns)
	}))

	got, err := st.ListTurnsForRaw(ctx, rawID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].TurnIndex)
	assert.Equal(t, 1, got[1].TurnIndex)
}
