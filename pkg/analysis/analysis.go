// Package analysis classifies each conversation turn's sentiment with an
// injected heuristic Lexicon, streaming turns in chunks and flushing
// entities in batches to bound memory on large conversations.
package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

const flushBatchSize = 100

// Store is the persistence surface Analyze needs.
type Store interface {
	GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error)
	SetRawPayloadStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.RawPayloadStatus, processedAt *time.Time) error
	StreamTurnsForRaw(ctx context.Context, rawPayloadID uuid.UUID, fn func(*store.ConversationTurn) error) error
	InsertEntities(ctx context.Context, tx store.DBTX, entities []*store.Entity) error
	Txn(ctx context.Context, fn func(tx store.DBTX) error) error
}

// Service implements the analyser.
type Service struct {
	Store   Store
	Lexicon Lexicon
	Clock   clock.Clock
	Tracker tracker.Tracker
}

// New builds a Service. lexicon defaults to DefaultLexicon; tracker
// defaults to a no-op sink.
func New(st Store, lexicon Lexicon, clk clock.Clock, trk tracker.Tracker) *Service {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if trk == nil {
		trk = tracker.NoOp
	}
	return &Service{Store: st, Lexicon: lexicon, Clock: clk, Tracker: trk}
}

// Analyze streams every turn for rawPayloadID in order, classifies it, and
// persists a SENTIMENT entity, flushing every flushBatchSize rows. Returns
// the number of turns analysed.
func (s *Service) Analyze(ctx context.Context, rawPayloadID uuid.UUID) (int, error) {
	raw, err := s.Store.GetRawPayload(ctx, rawPayloadID)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.ErrArgument, "analysis", "raw payload not found", err)
	}

	started := time.Now()
	run, _ := tracker.StageRun(ctx, s.Tracker, "analyze", raw.ID.String(), "")

	var (
		buffer                      []*store.Entity
		turnCount                   int
		positive, negative, neutral int
	)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		batch := buffer
		buffer = nil
		return s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.InsertEntities(ctx, tx, batch)
		})
	}

	streamErr := s.Store.StreamTurnsForRaw(ctx, rawPayloadID, func(turn *store.ConversationTurn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result := s.Lexicon.Predict(turn.Text)
		switch result.Label {
		case "POSITIVE":
			positive++
		case "NEGATIVE":
			negative++
		default:
			neutral++
		}
		turnCount++

		buffer = append(buffer, &store.Entity{
			ID:                 uuid.New(),
			ConversationTurnID: turn.ID,
			Type:               "SENTIMENT",
			Value:              result.Label,
			Sentiment:          result.Label,
			Relevance:          result.Score,
			Metadata: store.Metadata{
				"positive_matches": result.PositiveMatches,
				"negative_matches": result.NegativeMatches,
			},
		})

		if len(buffer) >= flushBatchSize {
			return flush()
		}
		return nil
	})
	if streamErr != nil {
		tracker.End(run, started, streamErr)
		return 0, xerrors.Wrap(xerrors.ErrTransient, "analysis", "failed streaming turns", streamErr)
	}

	if turnCount == 0 {
		failErr := xerrors.New(xerrors.ErrAnalysis, "analysis", "no turns to analyze")
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("ANALYSIS_FAILED"), nil)
		})
		tracker.End(run, started, failErr)
		return 0, failErr
	}

	if err := flush(); err != nil {
		tracker.End(run, started, err)
		return 0, xerrors.Wrap(xerrors.ErrTransient, "analysis", "failed flushing entities", err)
	}

	if run != nil {
		run.LogMetrics(map[string]any{
			"turn_count":     turnCount,
			"positive_ratio": ratio(positive, turnCount),
			"negative_ratio": ratio(negative, turnCount),
			"neutral_ratio":  ratio(neutral, turnCount),
		})
	}

	processedAt := s.Clock.Now()
	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("ANALYZED"), &processedAt)
	}); err != nil {
		tracker.End(run, started, err)
		return 0, xerrors.Wrap(xerrors.ErrTransient, "analysis", "failed to set status", err)
	}

	tracker.End(run, started, nil)
	return turnCount, nil
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
