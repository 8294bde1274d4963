package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const recommendationColumns = `id, user_id, objective_id, date, type, title, description, reasoning`

// CountRecommendationsInRange counts the user's recommendations with a date in
// [from, to], both YYYY-MM-DD.
func (s *Store) CountRecommendationsInRange(ctx context.Context, userID int64, from, to string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM daily_recommendations
		WHERE user_id = ? AND date >= ? AND date <= ?
	`, userID, from, to).Scan(&n)
	return n, err
}

// UpsertRecommendations writes every recommendation keyed by (user, date) in
// one transaction. Existing rows keep their id; recs is updated with the
// stored ids.
func (s *Store) UpsertRecommendations(ctx context.Context, recs []DailyRecommendation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range recs {
			r := &recs[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO daily_recommendations (
					user_id, objective_id, date, type, title, description, reasoning
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, date) DO UPDATE SET
					objective_id = excluded.objective_id,
					type = excluded.type,
					title = excluded.title,
					description = excluded.description,
					reasoning = excluded.reasoning,
					updated_at = CURRENT_TIMESTAMP
			`, r.UserID, r.ObjectiveID, r.Date, r.Type, r.Title, r.Description, r.Reasoning); err != nil {
				return fmt.Errorf("upserting recommendation for %s: %w", r.Date, err)
			}

			if err := tx.QueryRowContext(ctx, `
				SELECT id FROM daily_recommendations WHERE user_id = ? AND date = ?
			`, r.UserID, r.Date).Scan(&r.ID); err != nil {
				return fmt.Errorf("reading recommendation id for %s: %w", r.Date, err)
			}
		}
		return nil
	})
}

// GetRecommendationByDate returns the user's recommendation for date.
func (s *Store) GetRecommendationByDate(ctx context.Context, userID int64, date string) (*DailyRecommendation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recommendationColumns+` FROM daily_recommendations
		WHERE user_id = ? AND date = ?
	`, userID, date)

	var r DailyRecommendation
	err := row.Scan(&r.ID, &r.UserID, &r.ObjectiveID, &r.Date, &r.Type, &r.Title, &r.Description, &r.Reasoning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecommendationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRecommendationsInRange returns the user's recommendations in [from, to]
// ordered by date.
func (s *Store) ListRecommendationsInRange(ctx context.Context, userID int64, from, to string) ([]DailyRecommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recommendationColumns+` FROM daily_recommendations
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyRecommendation
	for rows.Next() {
		var r DailyRecommendation
		if err := rows.Scan(&r.ID, &r.UserID, &r.ObjectiveID, &r.Date, &r.Type, &r.Title, &r.Description, &r.Reasoning); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentRecommendationsWithFeedback returns the user's latest recommendations,
// newest date first, each with its feedback when the user left some.
func (s *Store) RecentRecommendationsWithFeedback(ctx context.Context, userID int64, limit int) ([]RecommendationWithFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.objective_id, r.date, r.type, r.title, r.description, r.reasoning,
			f.id, f.status, f.difficulty_rating, f.enjoyment_rating, f.notes
		FROM daily_recommendations r
		LEFT JOIN workout_feedback f
			ON f.daily_recommendation_id = r.id AND f.user_id = r.user_id
		WHERE r.user_id = ?
		ORDER BY r.date DESC, r.id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecommendationWithFeedback
	for rows.Next() {
		var rf RecommendationWithFeedback
		var fbID sql.NullInt64
		var fbStatus sql.NullString
		var difficulty, enjoyment *int
		var notes *string
		r := &rf.DailyRecommendation
		if err := rows.Scan(&r.ID, &r.UserID, &r.ObjectiveID, &r.Date, &r.Type, &r.Title, &r.Description, &r.Reasoning,
			&fbID, &fbStatus, &difficulty, &enjoyment, &notes); err != nil {
			return nil, err
		}
		if fbID.Valid {
			rf.Feedback = &WorkoutFeedback{
				ID:               fbID.Int64,
				UserID:           r.UserID,
				RecommendationID: r.ID,
				Status:           FeedbackStatus(fbStatus.String),
				DifficultyRating: difficulty,
				EnjoymentRating:  enjoyment,
				Notes:            notes,
			}
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
