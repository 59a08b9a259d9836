// Package feedback accepts user feedback submissions and persists them
// asynchronously through the scheduler, so the submission API never blocks
// on the write landing in Store.
package feedback

import (
	"context"

	"github.com/google/uuid"

	"github.com/nexusknowledge/nexusknowledge/pkg/clock"
	"github.com/nexusknowledge/nexusknowledge/pkg/store"
	"github.com/nexusknowledge/nexusknowledge/pkg/xerrors"
)

// Store is the persistence surface Feedback needs.
type Store interface {
	InsertFeedback(ctx context.Context, f *store.Feedback) error
	GetFeedback(ctx context.Context, id uuid.UUID) (*store.Feedback, error)
	SetFeedbackStatus(ctx context.Context, tx store.DBTX, id uuid.UUID, status store.FeedbackStatus) error
	Txn(ctx context.Context, fn func(tx store.DBTX) error) error
}

// Scheduler lets Feedback enqueue the persist_feedback job; nil is a valid
// no-op scheduler for callers that persist synchronously (tests, the CLI).
type Scheduler interface {
	Submit(ctx context.Context, jobName string, payload store.Metadata, correlationID string) error
}

// Service implements feedback submission.
type Service struct {
	Store     Store
	Scheduler Scheduler
	Clock     clock.Clock
}

// New builds a Service. scheduler may be nil.
func New(st Store, scheduler Scheduler, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{Store: st, Scheduler: scheduler, Clock: clk}
}

// Submit assigns a fresh id immediately and enqueues a persist_feedback job
// (if a scheduler is configured) so the caller never waits on the write.
// userID may be empty.
func (s *Service) Submit(ctx context.Context, feedbackType, message, userID string) (uuid.UUID, error) {
	if feedbackType == "" || message == "" {
		return uuid.Nil, xerrors.New(xerrors.ErrArgument, "feedback", "feedback_type and message are required")
	}

	id := uuid.New()
	payload := store.Metadata{
		"feedback_id":   id.String(),
		"feedback_type": feedbackType,
		"message":       message,
	}
	if userID != "" {
		payload["user_id"] = userID
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.Submit(ctx, "persist_feedback", payload, uuid.NewString()); err != nil {
			return uuid.Nil, xerrors.Wrap(xerrors.ErrTransient, "feedback", "failed to enqueue persist_feedback job", err)
		}
		return id, nil
	}

	// No scheduler configured: persist synchronously, mirroring the async
	// job handler's own behaviour exactly (see Persist).
	if err := s.Persist(ctx, id, feedbackType, message, userID); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Persist writes the feedback row, the handler invoked by the
// persist_feedback job (or directly by Submit when no scheduler is wired).
func (s *Service) Persist(ctx context.Context, id uuid.UUID, feedbackType, message, userID string) error {
	f := &store.Feedback{
		ID:           id,
		FeedbackType: feedbackType,
		Message:      message,
		SubmittedAt:  s.Clock.Now(),
		Status:       store.FeedbackNew,
	}
	if userID != "" {
		f.UserID = &userID
	}
	if err := s.Store.InsertFeedback(ctx, f); err != nil {
		return xerrors.Wrap(xerrors.ErrTransient, "feedback", "failed to persist feedback", err)
	}
	return nil
}

// Get returns a feedback record by id for status polling.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*store.Feedback, error) {
	f, err := s.Store.GetFeedback(ctx, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrNotFound, "feedback", "feedback not found", err)
	}
	return f, nil
}

// SetStatus transitions a feedback record's status, used by operator
// tooling once a reviewer has triaged it.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status store.FeedbackStatus) error {
	if err := s.Store.Txn(ctx, func(tx store.DBTX) error {
		return s.Store.SetFeedbackStatus(ctx, tx, id, status)
	}); err != nil {
		return xerrors.Wrap(xerrors.ErrTransient, "feedback", "failed to update feedback status", err)
	}
	return nil
}
