// Package correlate proposes cross-turn relationship candidates from
// sentiment entities and fuses them into confirmed Relationships.
package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/tracker"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

const (
	// DefaultGenerateMinScore is generateCandidates' default threshold.
	DefaultGenerateMinScore = 0.05
	// DefaultFuseMinScore is fuseCandidates' default threshold.
	DefaultFuseMinScore = 0.2
)

// Store is the persistence surface the correlator needs.
type Store interface {
	GetRawPayload(ctx context.Context, id uuid.UUID) (*store.RawPayload, error)
	SetRawPayloadStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.RawPayloadStatus, processedAt *time.Time) error
	ListSentimentEntitiesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]store.EntityWithTurn, error)
	ExistingCandidatePairs(ctx context.Context, rawPayloadID uuid.UUID) (map[string]bool, error)
	InsertCandidates(ctx context.Context, tx store.DBTX, candidates []*store.CorrelationCandidate) error
	ListPendingCandidatesForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.CorrelationCandidate, error)
	UpdateCandidateStatuses(ctx context.Context, tx store.DBTX, ids []uuid.UUID, status store.CandidateStatus) error
	InsertRelationships(ctx context.Context, tx store.DBTX, rels []*store.Relationship) error
	ListRelationshipsForRaw(ctx context.Context, rawPayloadID uuid.UUID) ([]*store.Relationship, error)
	Txn(ctx context.Context, fn func(tx store.DBTX) error) error
}

// GraphMirror optionally mirrors confirmed relationships into a graph
// database. A nil GraphMirror disables mirroring entirely; failures are
// logged by the implementation and never fail fusion (best-effort, the same
// policy the tracker sink uses).
type GraphMirror interface {
	MirrorRelationship(ctx context.Context, rel *store.Relationship) error
}

// FusionCounts is fuseCandidates' result shape.
type FusionCounts struct {
	Confirmed int
	Rejected  int
}

// Service implements candidate generation and fusion.
type Service struct {
	Store   Store
	Clock   clock.Clock
	Graph   GraphMirror
	Tracker tracker.Tracker
}

// New builds a Service. graph and trk may be nil.
func New(st Store, clk clock.Clock, graph GraphMirror, trk tracker.Tracker) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if trk == nil {
		trk = tracker.NoOp
	}
	return &Service{Store: st, Clock: clk, Graph: graph, Tracker: trk}
}

// GenerateCandidates proposes a CorrelationCandidate for every unordered
// pair of sentiment entities sharing a label, scoring by relevance
// closeness, skipping pairs already recorded so reruns are idempotent.
func (s *Service) GenerateCandidates(ctx context.Context, rawPayloadID uuid.UUID, minScore float64) (int, error) {
	if _, err := s.Store.GetRawPayload(ctx, rawPayloadID); err != nil {
		return 0, xerrors.Wrap(xerrors.ErrArgument, "correlate", "raw payload not found", err)
	}

	started := time.Now()
	run, _ := tracker.StageRun(ctx, s.Tracker, "generate_candidates", rawPayloadID.String(), "")

	entities, err := s.Store.ListSentimentEntitiesForRaw(ctx, rawPayloadID)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "correlate", "failed to load sentiment entities", err)
		tracker.End(run, started, wrapped)
		return 0, wrapped
	}
	if len(entities) == 0 {
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("CORRELATION_SKIPPED"), nil)
		})
		failErr := xerrors.New(xerrors.ErrCorrelation, "correlate", "no sentiment entities available for correlation")
		tracker.End(run, started, failErr)
		return 0, failErr
	}

	existingPairs, err := s.Store.ExistingCandidatePairs(ctx, rawPayloadID)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "correlate", "failed to load existing candidate pairs", err)
		tracker.End(run, started, wrapped)
		return 0, wrapped
	}

	var candidates []*store.CorrelationCandidate
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if a.Entity.Value != b.Entity.Value {
				continue
			}

			pair := store.PairKey(a.Entity.ID, b.Entity.ID)
			if existingPairs[pair] {
				continue
			}

			score := correlationScore(a.Entity.Relevance, b.Entity.Relevance)
			if score < minScore {
				continue
			}

			rationale := fmt.Sprintf(
				"Both turns share %s sentiment in conversations %s and %s.",
				a.Entity.Value, a.Turn.ConversationID, b.Turn.ConversationID,
			)

			candidates = append(candidates, &store.CorrelationCandidate{
				ID:             uuid.New(),
				RawPayloadID:   rawPayloadID,
				SourceEntityID: a.Entity.ID,
				TargetEntityID: b.Entity.ID,
				Score:          score,
				Status:         store.CandidatePending,
				Rationale:      &rationale,
				CreatedAt:      s.Clock.Now(),
				Metadata: store.Metadata{
					"turn_a":    a.Turn.ConversationID.String(),
					"turn_b":    b.Turn.ConversationID.String(),
					"sentiment": a.Entity.Value,
				},
			})
			existingPairs[pair] = true
		}
	}

	processedAt := s.Clock.Now()
	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		if err := s.Store.InsertCandidates(ctx, tx, candidates); err != nil {
			return err
		}
		return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("CORRELATION_GENERATED"), &processedAt)
	}); err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "correlate", "failed to persist candidates", err)
		tracker.End(run, started, wrapped)
		return 0, wrapped
	}

	if run != nil {
		run.LogMetrics(map[string]any{"candidates_generated": len(candidates)})
	}
	tracker.End(run, started, nil)

	return len(candidates), nil
}

// correlationScore mirrors max(0, 1 - min(|a-b|, 1)).
func correlationScore(a, b float64) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff > 1 {
		diff = 1
	}
	score := 1 - diff
	if score < 0 {
		score = 0
	}
	return score
}

// FuseCandidates partitions PENDING candidates by threshold into CONFIRMED
// (with a new Relationship each) and REJECTED, mirroring confirmed
// relationships into the optional graph store best-effort.
func (s *Service) FuseCandidates(ctx context.Context, rawPayloadID uuid.UUID, minScore float64) (FusionCounts, error) {
	if _, err := s.Store.GetRawPayload(ctx, rawPayloadID); err != nil {
		return FusionCounts{}, xerrors.Wrap(xerrors.ErrArgument, "correlate", "raw payload not found", err)
	}

	started := time.Now()
	run, _ := tracker.StageRun(ctx, s.Tracker, "fuse_candidates", rawPayloadID.String(), "")

	pending, err := s.Store.ListPendingCandidatesForRaw(ctx, rawPayloadID)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "correlate", "failed to load pending candidates", err)
		tracker.End(run, started, wrapped)
		return FusionCounts{}, wrapped
	}
	if len(pending) == 0 {
		if run != nil {
			run.LogMetrics(map[string]any{"relationships_confirmed": 0, "relationships_rejected": 0})
		}
		tracker.End(run, started, nil)
		return FusionCounts{}, nil
	}

	var (
		relationships []*store.Relationship
		confirmIDs    []uuid.UUID
		rejectIDs     []uuid.UUID
	)

	for _, c := range pending {
		if c.Score >= minScore {
			var rationale string
			if c.Rationale != nil {
				rationale = *c.Rationale
			}
			relationships = append(relationships, &store.Relationship{
				ID:             uuid.New(),
				SourceEntityID: c.SourceEntityID,
				TargetEntityID: c.TargetEntityID,
				Type:           "SENTIMENT_LINK",
				Strength:       c.Score,
				Metadata: store.Metadata{
					"raw_data_id": c.RawPayloadID.String(),
					"rationale":   rationale,
				},
			})
			confirmIDs = append(confirmIDs, c.ID)
		} else {
			rejectIDs = append(rejectIDs, c.ID)
		}
	}

	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		if err := s.Store.InsertRelationships(ctx, tx, relationships); err != nil {
			return err
		}
		if len(confirmIDs) > 0 {
			if err := s.Store.UpdateCandidateStatuses(ctx, tx, confirmIDs, store.CandidateConfirmed); err != nil {
				return err
			}
		}
		if len(rejectIDs) > 0 {
			if err := s.Store.UpdateCandidateStatuses(ctx, tx, rejectIDs, store.CandidateRejected); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		wrapped := xerrors.Wrap(xerrors.ErrTransient, "correlate", "failed to persist fusion results", err)
		tracker.End(run, started, wrapped)
		return FusionCounts{}, wrapped
	}

	if s.Graph != nil {
		for _, rel := range relationships {
			_ = s.Graph.MirrorRelationship(ctx, rel)
		}
	}

	if len(relationships) > 0 {
		processedAt := s.Clock.Now()
		_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
			return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("CORRELATED"), &processedAt)
		})
	} else {
		existing, err := s.Store.ListRelationshipsForRaw(ctx, rawPayloadID)
		if err == nil && len(existing) == 0 {
			_ = s.Store.Txn(ctx, func(tx store.DBTX) error {
				return s.Store.SetRawPayloadStatus(ctx, tx, rawPayloadID, store.RawPayloadStatus("CORRELATION_REVIEWED"), nil)
			})
		}
	}

	if run != nil {
		run.LogMetrics(map[string]any{
			"relationships_confirmed": len(confirmIDs),
			"relationships_rejected":  len(rejectIDs),
		})
	}
	tracker.End(run, started, nil)

	return FusionCounts{Confirmed: len(confirmIDs), Rejected: len(rejectIDs)}, nil
}
