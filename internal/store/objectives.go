package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const objectiveColumns = `id, user_id, type, target_date, status, description, enhancement_prompt, running_days, created_at`

// CreateObjective abandons the user's active objectives and inserts o as the
// new active one, in a single transaction.
func (s *Store) CreateObjective(ctx context.Context, o *Objective) error {
	days, err := json.Marshal(o.RunningDays)
	if err != nil {
		return fmt.Errorf("encoding running days: %w", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.Status = ObjectiveActive

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE objectives SET status = ? WHERE user_id = ? AND status = ?
		`, ObjectiveAbandoned, o.UserID, ObjectiveActive); err != nil {
			return fmt.Errorf("abandoning previous objective: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO objectives (user_id, type, target_date, status, description,
				enhancement_prompt, running_days, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, o.UserID, o.Type, o.TargetDate.Format(DateLayout), o.Status, o.Description,
			o.EnhancementPrompt, string(days), formatTime(o.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting objective: %w", err)
		}
		o.ID, err = res.LastInsertId()
		return err
	})
}

// CurrentObjective returns the user's most recently created active objective.
func (s *Store) CurrentObjective(ctx context.Context, userID int64) (*Objective, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+objectiveColumns+` FROM objectives
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID, ObjectiveActive)
	return scanObjective(row)
}

// ListActiveObjectives returns every active objective, oldest user first.
func (s *Store) ListActiveObjectives(ctx context.Context) ([]Objective, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+objectiveColumns+` FROM objectives
		WHERE status = ?
		ORDER BY user_id, id
	`, ObjectiveActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// SetObjectiveStatus moves an objective to a new status.
func (s *Store) SetObjectiveStatus(ctx context.Context, id int64, status ObjectiveStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE objectives SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrObjectiveNotFound
	}
	return nil
}

func scanObjective(row rowScanner) (*Objective, error) {
	var o Objective
	var targetDate, days, createdAt string
	err := row.Scan(&o.ID, &o.UserID, &o.Type, &targetDate, &o.Status, &o.Description,
		&o.EnhancementPrompt, &days, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrObjectiveNotFound
	}
	if err != nil {
		return nil, err
	}

	if o.TargetDate, err = time.Parse(DateLayout, targetDate); err != nil {
		return nil, fmt.Errorf("parsing target_date %q: %w", targetDate, err)
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if err := json.Unmarshal([]byte(days), &o.RunningDays); err != nil {
		return nil, fmt.Errorf("decoding running_days: %w", err)
	}
	return &o, nil
}
