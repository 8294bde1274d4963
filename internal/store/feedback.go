package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidFeedback is returned when feedback fails validation
var ErrInvalidFeedback = errors.New("invalid workout feedback")

const maxFeedbackNotes = 1000

// Validate checks the status enum, rating bounds and note length.
func (f *WorkoutFeedback) Validate() error {
	switch f.Status {
	case FeedbackCompleted, FeedbackSkipped, FeedbackPartiallyCompleted:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidFeedback, f.Status)
	}
	for name, r := range map[string]*int{"difficulty": f.DifficultyRating, "enjoyment": f.EnjoymentRating} {
		if r != nil && (*r < 1 || *r > 5) {
			return fmt.Errorf("%w: %s rating %d outside 1-5", ErrInvalidFeedback, name, *r)
		}
	}
	if f.Notes != nil && len([]rune(*f.Notes)) > maxFeedbackNotes {
		return fmt.Errorf("%w: notes longer than %d characters", ErrInvalidFeedback, maxFeedbackNotes)
	}
	return nil
}

// SaveFeedback creates or replaces the user's feedback on a recommendation.
func (s *Store) SaveFeedback(ctx context.Context, f *WorkoutFeedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workout_feedback (
			user_id, daily_recommendation_id, status, difficulty_rating, enjoyment_rating, notes
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, daily_recommendation_id) DO UPDATE SET
			status = excluded.status,
			difficulty_rating = excluded.difficulty_rating,
			enjoyment_rating = excluded.enjoyment_rating,
			notes = excluded.notes,
			updated_at = CURRENT_TIMESTAMP
	`, f.UserID, f.RecommendationID, f.Status, f.DifficultyRating, f.EnjoymentRating, f.Notes)
	if err != nil {
		return fmt.Errorf("saving feedback: %w", err)
	}

	return s.db.QueryRowContext(ctx, `
		SELECT id FROM workout_feedback WHERE user_id = ? AND daily_recommendation_id = ?
	`, f.UserID, f.RecommendationID).Scan(&f.ID)
}
