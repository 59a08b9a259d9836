package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusknowledge/nexusknowledge/pkg/analysis"
	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/correlate"
	"github.com/nexusknowledge/nexusknowledge/pkg/export"
	"github.com/nexusknowledge/nexusknowledge/pkg/feedback"
	"github.com/nexusknowledge/nexusknowledge/pkg/normalize"
	"github.com/nexusknowledge/nexusknowledge/pkg/pipeline"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/store/storetest"
)

// fakeSubmitter records every job enqueued by a handler, so tests can assert
// the next stage in the chain was submitted without standing up a real
// scheduler.
type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []submittedJob
}

type submittedJob struct {
	name          string
	payload       store.Metadata
	correlationID string
}

func (f *fakeSubmitter) Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, submittedJob{jobName, payload, correlationID})
	return nil
}

func seedRawWithContent(t *testing.T, fake *storetest.Fake, content, status string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	rawID := uuid.New()
	require.NoError(t, fake.Txn(ctx, func(tx store.DBTX) error {
		return fake.InsertRawPayload(ctx, tx, &store.RawPayload{
			ID: rawID, SourceType: "deepseek", Content: content, ContentHash: uuid.NewString(),
			Status: store.RawPayloadStatus(status), IngestedAt: time.Now(),
		})
	}))
	return rawID
}

func newHandlers(t *testing.T, fake *storetest.Fake, submitter *fakeSubmitter) *pipeline.Handlers {
	t.Helper()
	clk := clock.System{}
	return &pipeline.Handlers{
		Normalize: normalize.New(fake, clk, nil),
		Analyze:   analysis.New(fake, analysis.DefaultLexicon(), clk, nil),
		Correlate: correlate.New(fake, clk, nil, nil),
		Export:    export.New(fake, clk, nil),
		Feedback:  feedback.New(fake, nil, clk),
		Store:     fake,
		Submit:    submitter,
		ExportDir: t.TempDir(),
	}
}

func TestNormalizeHandlerChainsAnalyze(t *testing.T) {
	fake := storetest.New()
	submitter := &fakeSubmitter{}
	h := newHandlers(t, fake, submitter)

	content := `{"source_id":"s1","messages":[{"role":"user","content":"I love this feature","timestamp":"2025-01-01T00:00:00Z"}]}`
	rawID := seedRawWithContent(t, fake, content, "INGESTED")

	err := h.NormalizeHandler(context.Background(), store.Metadata{"raw_payload_id": rawID.String()}, "corr-1")
	require.NoError(t, err)

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	require.Len(t, submitter.jobs, 1)
	assert.Equal(t, "analyze", submitter.jobs[0].name)
	assert.Equal(t, rawID.String(), submitter.jobs[0].payload["raw_payload_id"])
	assert.Equal(t, "corr-1", submitter.jobs[0].correlationID)

	raw, err := fake.GetRawPayload(context.Background(), rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("NORMALIZED"), raw.Status)
}

func TestGenerateCandidatesHandlerSkipsFuseWhenNoCandidates(t *testing.T) {
	fake := storetest.New()
	submitter := &fakeSubmitter{}
	h := newHandlers(t, fake, submitter)

	// An analyzed raw payload with no sentiment entities: GenerateCandidates
	// reports CorrelationError and the handler must not enqueue fuse.
	rawID := seedRawWithContent(t, fake, "{}", "ANALYZED")

	err := h.GenerateCandidatesHandler(context.Background(), store.Metadata{"raw_payload_id": rawID.String()}, "")
	require.Error(t, err)

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	assert.Empty(t, submitter.jobs)
}

func TestHandlerRejectsWrongPreconditionStatus(t *testing.T) {
	fake := storetest.New()
	submitter := &fakeSubmitter{}
	h := newHandlers(t, fake, submitter)

	// A replayed analyze job arriving before normalize ever ran must fail
	// terminally without dispatching or chaining anything.
	rawID := seedRawWithContent(t, fake, "{}", "INGESTED")

	err := h.AnalyzeHandler(context.Background(), store.Metadata{"raw_payload_id": rawID.String()}, "")
	require.Error(t, err)

	submitter.mu.Lock()
	defer submitter.mu.Unlock()
	assert.Empty(t, submitter.jobs)

	raw, err := fake.GetRawPayload(context.Background(), rawID)
	require.NoError(t, err)
	assert.Equal(t, store.RawPayloadStatus("INGESTED"), raw.Status)
}

func TestPayloadMissingRawPayloadIDIsRejected(t *testing.T) {
	fake := storetest.New()
	submitter := &fakeSubmitter{}
	h := newHandlers(t, fake, submitter)

	err := h.AnalyzeHandler(context.Background(), store.Metadata{}, "")
	assert.Error(t, err)
}

func TestPersistFeedbackHandlerWritesRecord(t *testing.T) {
	fake := storetest.New()
	submitter := &fakeSubmitter{}
	h := newHandlers(t, fake, submitter)

	id := uuid.New()
	err := h.PersistFeedbackHandler(context.Background(), store.Metadata{
		"feedback_id":   id.String(),
		"feedback_type": "bug",
		"message":       "search misses punctuation",
	}, "")
	require.NoError(t, err)

	fb, err := fake.GetFeedback(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bug", fb.FeedbackType)
	assert.Equal(t, store.FeedbackNew, fb.Status)
}
