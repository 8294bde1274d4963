package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrActivityNotFound is returned when an activity doesn't exist
var ErrActivityNotFound = errors.New("activity not found")

const activityColumns = `id, user_id, external_id, name, type, distance, moving_time, elapsed_time,
	start_date, zone_data, z1_time, z2_time, z3_time, z4_time, z5_time, intensity_score,
	zone_data_available, short_evaluation, extended_evaluation, recovery_score,
	estimated_recovery_hours`

// InsertActivity stores a new activity keyed by its external id. It reports
// created=false, leaving the stored row untouched, when that external id
// already exists. A non-nil event is written to the outbox in the same
// transaction as a created row.
func (s *Store) InsertActivity(ctx context.Context, a *Activity, event EventFunc) (created bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO activities (
				user_id, external_id, name, type, distance, moving_time, elapsed_time,
				start_date, zone_data, z1_time, z2_time, z3_time, z4_time, z5_time,
				intensity_score, zone_data_available
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO NOTHING
		`,
			a.UserID, a.ExternalID, a.Name, a.Type, a.Distance, a.MovingTime, a.ElapsedTime,
			nullTime(a.StartDate), a.ZoneData, a.Z1Time, a.Z2Time, a.Z3Time, a.Z4Time, a.Z5Time,
			a.IntensityScore, boolToInt(a.ZoneDataAvailable),
		)
		if err != nil {
			return fmt.Errorf("inserting activity %d: %w", a.ExternalID, err)
		}

		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if event != nil {
			if err := insertOutbox(ctx, tx, id, event); err != nil {
				return err
			}
		}
		a.ID = id
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// ActivityExists reports whether an activity with the external id is stored.
func (s *Store) ActivityExists(ctx context.Context, externalID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM activities WHERE external_id = ?`, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetActivity retrieves an activity by ID
func (s *Store) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	return scanActivity(row)
}

// SetActivityEvaluation stores the coach's evaluation text, writing a
// non-nil event to the outbox in the same transaction.
func (s *Store) SetActivityEvaluation(ctx context.Context, id int64, short, extended string, event EventFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE activities
			SET short_evaluation = ?, extended_evaluation = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, short, extended, id)
		if err := checkActivityUpdate(res, err); err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		return insertOutbox(ctx, tx, id, event)
	})
}

// SetActivityRecovery stores the per-activity recovery estimate.
func (s *Store) SetActivityRecovery(ctx context.Context, id int64, score float64, hours int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE activities
		SET recovery_score = ?, estimated_recovery_hours = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, score, hours, id)
	return checkActivityUpdate(res, err)
}

// ListActivitiesSince returns the user's activities that started at or after
// since, newest first. A limit of 0 returns all of them.
func (s *Store) ListActivitiesSince(ctx context.Context, userID int64, since time.Time, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE user_id = ? AND start_date >= ?
		ORDER BY start_date DESC, id DESC
		LIMIT ?
	`, userID, formatTime(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListUserActivities returns all of a user's activities, oldest first.
func (s *Store) ListUserActivities(ctx context.Context, userID int64) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE user_id = ?
		ORDER BY start_date, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListActivityIDs returns activity ids, optionally restricted to one user.
func (s *Store) ListActivityIDs(ctx context.Context, userID *int64) ([]int64, error) {
	query := `SELECT id FROM activities ORDER BY id`
	var args []any
	if userID != nil {
		query = `SELECT id FROM activities WHERE user_id = ? ORDER BY id`
		args = append(args, *userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActivitiesMissingRecovery returns activities of the given type that
// have an intensity score but no recovery estimate yet.
func (s *Store) ListActivitiesMissingRecovery(ctx context.Context, activityType string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE type = ? AND intensity_score IS NOT NULL AND recovery_score IS NULL
		ORDER BY id
	`, activityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

func checkActivityUpdate(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrActivityNotFound
	}
	return nil
}

func scanActivity(row rowScanner) (*Activity, error) {
	var a Activity
	var startDate sql.NullString
	var zoneAvailable int
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExternalID, &a.Name, &a.Type, &a.Distance, &a.MovingTime, &a.ElapsedTime,
		&startDate, &a.ZoneData, &a.Z1Time, &a.Z2Time, &a.Z3Time, &a.Z4Time, &a.Z5Time, &a.IntensityScore,
		&zoneAvailable, &a.ShortEvaluation, &a.ExtendedEvaluation, &a.RecoveryScore,
		&a.EstimatedRecoveryHours,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}

	a.ZoneDataAvailable = zoneAvailable == 1
	if a.StartDate, err = parseNullTime(startDate); err != nil {
		return nil, fmt.Errorf("parsing start_date %q: %w", startDate.String, err)
	}
	return &a, nil
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var activities []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}
