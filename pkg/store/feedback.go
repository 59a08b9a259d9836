package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertFeedback inserts a new Feedback row in status NEW.
func (s *Store) InsertFeedback(ctx context.Context, f *Feedback) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (id, feedback_type, message, user_id, submitted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.FeedbackType, f.Message, f.UserID, f.SubmittedAt, f.Status)
	if err != nil {
		return fmt.Errorf("store: insert feedback: %w", err)
	}
	return nil
}

// GetFeedback returns the Feedback with the given id.
func (s *Store) GetFeedback(ctx context.Context, id uuid.UUID) (*Feedback, error) {
	var f Feedback
	err := s.pool.QueryRow(ctx, `SELECT id, feedback_type, message, user_id, submitted_at, status FROM feedback WHERE id = $1`, id).
		Scan(&f.ID, &f.FeedbackType, &f.Message, &f.UserID, &f.SubmittedAt, &f.Status)
	if err != nil {
		return nil, fmt.Errorf("store: get feedback: %w", err)
	}
	return &f, nil
}

// SetFeedbackStatus updates a feedback record's status, used by operator
// tooling once a reviewer has triaged it.
func (s *Store) SetFeedbackStatus(ctx context.Context, tx DBTX, id uuid.UUID, status FeedbackStatus) error {
	_, err := tx.Exec(ctx, `UPDATE feedback SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: set feedback status: %w", err)
	}
	return nil
}
