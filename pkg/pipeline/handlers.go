package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/analysis"
	"github.com/nexusknowledge/nexusknowledge/pkg/correlate"
	"github.com/nexusknowledge/nexusknowledge/pkg/export"
	"github.com/nexusknowledge/nexusknowledge/pkg/feedback"
	"github.com/nexusknowledge/nexusknowledge/pkg/normalize"
	"github.com/nexusknowledge/nexusknowledge/pkg/notify"
	"github.com/nexusknowledge/nexusknowledge/pkg/scheduler"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
)

// Submitter is the scheduler surface Handlers needs to chain stages: every
// handler below enqueues the next stage's job itself rather than relying on
// a caller to poll status and advance the pipeline by hand.
type Submitter interface {
	Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error
}

// RawReader is the read surface handlers use to assert a stage's
// precondition status before dispatching into its service.
type RawReader interface {
	GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error)
}

const (
	defaultMinGenerateScore = 0.05
	defaultMinFuseScore     = 0.2
)

// Handlers binds one instance of every stage service into scheduler.Handler
// closures, the composition root's single place to read for "what runs
// when". Export and persist_feedback are intentionally excluded from
// automatic chaining: Export is caller-triggered and read-only against
// Store, never auto-fired by a status transition, and persist_feedback
// has no downstream stage to chain into. Notify may be
// nil (disables stage-completion events); every other field is required.
type Handlers struct {
	Normalize *normalize.Service
	Analyze   *analysis.Service
	Correlate *correlate.Service
	Export    *export.Service
	Feedback  *feedback.Service
	Store     RawReader
	Submit    Submitter
	Notify    *notify.Publisher
	ExportDir string
}

// stageContext re-establishes the submitter's correlation id on the worker
// side so tracker runs started inside a stage service pick it up.
func stageContext(ctx context.Context, correlationID string) context.Context {
	return tracker.WithCorrelationID(ctx, correlationID)
}

// assertPrecondition loads the raw payload and checks that stage may run
// from its current status. A payload in the wrong status is an argument
// error, never retried: at-least-once delivery means a requeued job can
// arrive after its stage already ran, and this is where that replay stops.
func (h *Handlers) assertPrecondition(ctx context.Context, rawID uuid.UUID, stage Stage) error {
	raw, err := h.Store.GetRawPayload(ctx, rawID)
	if err != nil {
		return err
	}
	return CheckPrecondition(Status(raw.Status), stage)
}

func payloadRawID(payload store.Metadata) (uuid.UUID, error) {
	raw, ok := payload["raw_payload_id"]
	if !ok {
		return uuid.Nil, fmt.Errorf("pipeline: job payload missing raw_payload_id")
	}
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("pipeline: job payload raw_payload_id is not a string")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("pipeline: job payload raw_payload_id is not a uuid: %w", err)
	}
	return id, nil
}

func (h *Handlers) notify(ctx context.Context, rawID uuid.UUID, stage Stage, status Status, correlationID string) {
	if h.Notify == nil {
		return
	}
	h.Notify.Publish(ctx, notify.Event{
		RawPayloadID:  rawID,
		Stage:         string(stage),
		Status:        string(status),
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	})
}

// NormalizeHandler is the "normalize" job: flattens the raw payload into
// turns, then enqueues "analyze" on success.
func (h *Handlers) NormalizeHandler(ctx context.Context, payload store.Metadata, correlationID string) error {
	rawID, err := payloadRawID(payload)
	if err != nil {
		return err
	}
	ctx = stageContext(ctx, correlationID)
	if err := h.assertPrecondition(ctx, rawID, StageNormalize); err != nil {
		return err
	}
	if _, err := h.Normalize.Normalize(ctx, rawID); err != nil {
		h.notify(ctx, rawID, StageNormalize, StatusFailed, correlationID)
		return err
	}
	h.notify(ctx, rawID, StageNormalize, StatusNormalized, correlationID)
	if err := h.Submit.Submit(ctx, string(StageAnalyze), store.Metadata{"raw_payload_id": rawID.String()}, correlationID); err != nil {
		return fmt.Errorf("pipeline: enqueue analyze after normalize: %w", err)
	}
	return nil
}

// AnalyzeHandler is the "analyze" job: classifies sentiment per turn, then
// enqueues "generate_candidates" on success.
func (h *Handlers) AnalyzeHandler(ctx context.Context, payload store.Metadata, correlationID string) error {
	rawID, err := payloadRawID(payload)
	if err != nil {
		return err
	}
	ctx = stageContext(ctx, correlationID)
	if err := h.assertPrecondition(ctx, rawID, StageAnalyze); err != nil {
		return err
	}
	if _, err := h.Analyze.Analyze(ctx, rawID); err != nil {
		h.notify(ctx, rawID, StageAnalyze, StatusAnalysisFailed, correlationID)
		return err
	}
	h.notify(ctx, rawID, StageAnalyze, StatusAnalyzed, correlationID)
	if err := h.Submit.Submit(ctx, string(StageGenerateCandidates), store.Metadata{"raw_payload_id": rawID.String()}, correlationID); err != nil {
		return fmt.Errorf("pipeline: enqueue generate_candidates after analyze: %w", err)
	}
	return nil
}

// GenerateCandidatesHandler is the "generate_candidates" job: proposes
// correlation candidates, then enqueues "fuse_candidates" only if any
// candidate was produced (a CORRELATION_SKIPPED raw has nothing to fuse).
func (h *Handlers) GenerateCandidatesHandler(ctx context.Context, payload store.Metadata, correlationID string) error {
	rawID, err := payloadRawID(payload)
	if err != nil {
		return err
	}
	ctx = stageContext(ctx, correlationID)
	if err := h.assertPrecondition(ctx, rawID, StageGenerateCandidates); err != nil {
		return err
	}
	n, err := h.Correlate.GenerateCandidates(ctx, rawID, defaultMinGenerateScore)
	if err != nil {
		h.notify(ctx, rawID, StageGenerateCandidates, StatusCorrelationSkipped, correlationID)
		return err
	}
	h.notify(ctx, rawID, StageGenerateCandidates, StatusCorrelationGenerated, correlationID)
	if n == 0 {
		return nil
	}
	if err := h.Submit.Submit(ctx, string(StageFuseCandidates), store.Metadata{"raw_payload_id": rawID.String()}, correlationID); err != nil {
		return fmt.Errorf("pipeline: enqueue fuse_candidates after generate_candidates: %w", err)
	}
	return nil
}

// FuseCandidatesHandler is the "fuse_candidates" job: the pipeline's
// terminal automatic stage. Nothing is chained after it; CORRELATED and
// CORRELATION_REVIEWED are both terminal states.
func (h *Handlers) FuseCandidatesHandler(ctx context.Context, payload store.Metadata, correlationID string) error {
	rawID, err := payloadRawID(payload)
	if err != nil {
		return err
	}
	ctx = stageContext(ctx, correlationID)
	if err := h.assertPrecondition(ctx, rawID, StageFuseCandidates); err != nil {
		return err
	}
	counts, err := h.Correlate.FuseCandidates(ctx, rawID, defaultMinFuseScore)
	if err != nil {
		return err
	}
	status := StatusCorrelationReviewed
	if counts.Confirmed > 0 {
		status = StatusCorrelated
	}
	h.notify(ctx, rawID, StageFuseCandidates, status, correlationID)
	return nil
}

// ExportHandler is the "export" job: an operator- or caller-triggered,
// read-only rendering of a raw payload to Markdown. It never mutates
// RawPayload status, so nothing is chained after it. A "directory" payload
// key overrides h.ExportDir for one-off exports to a caller-chosen path.
func (h *Handlers) ExportHandler(ctx context.Context, payload store.Metadata, correlationID string) error {
	rawID, err := payloadRawID(payload)
	if err != nil {
		return err
	}
	ctx = stageContext(ctx, correlationID)
	dir := h.ExportDir
	if v, ok := payload["directory"].(string); ok && v != "" {
		dir = v
	}
	_, err = h.Export.Export(ctx, rawID, dir)
	return err
}

// PersistFeedbackHandler is the "persist_feedback" job: writes a Feedback
// row asynchronously so the submission API never blocks on the store.
func (h *Handlers) PersistFeedbackHandler(ctx context.Context, payload store.Metadata, _ string) error {
	idStr, _ := payload["feedback_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return fmt.Errorf("pipeline: persist_feedback payload missing a valid feedback_id: %w", err)
	}
	feedbackType, _ := payload["feedback_type"].(string)
	message, _ := payload["message"].(string)
	userID, _ := payload["user_id"].(string)
	return h.Feedback.Persist(ctx, id, feedbackType, message, userID)
}

// Register binds every handler above to its job name on sched.
func (h *Handlers) Register(sched *scheduler.Scheduler) {
	sched.Register(string(StageNormalize), h.NormalizeHandler)
	sched.Register(string(StageAnalyze), h.AnalyzeHandler)
	sched.Register(string(StageGenerateCandidates), h.GenerateCandidatesHandler)
	sched.Register(string(StageFuseCandidates), h.FuseCandidatesHandler)
	sched.Register("export", h.ExportHandler)
	sched.Register("persist_feedback", h.PersistFeedbackHandler)
}
