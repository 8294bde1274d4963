package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPersonalRecordNotFound is returned when a personal record doesn't exist
var ErrPersonalRecordNotFound = errors.New("personal record not found")

// CompareMode determines how personal records are compared
type CompareMode int

const (
	CompareLowerWins  CompareMode = iota // times and paces
	CompareHigherWins                    // distances
)

// UpsertPersonalRecord stores pr as the user's record for its type when no
// record exists yet or pr strictly improves on it under mode. The comparison
// happens inside the upsert so concurrent writers cannot regress a record.
func (s *Store) UpsertPersonalRecord(ctx context.Context, pr *PersonalRecord, mode CompareMode) (updated bool, err error) {
	cmp := "<"
	if mode == CompareHigherWins {
		cmp = ">"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO personal_records (user_id, record_type, value, achieved_date, activity_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, record_type) DO UPDATE SET
			value = excluded.value,
			achieved_date = excluded.achieved_date,
			activity_id = excluded.activity_id
		WHERE excluded.value `+cmp+` personal_records.value
	`, pr.UserID, pr.RecordType, pr.Value, formatTime(pr.AchievedDate), pr.ActivityID)
	if err != nil {
		return false, fmt.Errorf("upserting %s record: %w", pr.RecordType, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPersonalRecord retrieves the user's record of the given type
func (s *Store) GetPersonalRecord(ctx context.Context, userID int64, recordType string) (*PersonalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, record_type, value, achieved_date, activity_id
		FROM personal_records
		WHERE user_id = ? AND record_type = ?
	`, userID, recordType)
	return scanPersonalRecord(row)
}

// ListPersonalRecords retrieves all of a user's records
func (s *Store) ListPersonalRecords(ctx context.Context, userID int64) ([]PersonalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, record_type, value, achieved_date, activity_id
		FROM personal_records
		WHERE user_id = ?
		ORDER BY record_type
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PersonalRecord
	for rows.Next() {
		pr, err := scanPersonalRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *pr)
	}
	return records, rows.Err()
}

// scanPersonalRecord scans a single personal record from a row
func scanPersonalRecord(row rowScanner) (*PersonalRecord, error) {
	var pr PersonalRecord
	var achieved string

	err := row.Scan(&pr.ID, &pr.UserID, &pr.RecordType, &pr.Value, &achieved, &pr.ActivityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPersonalRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	var parseErr error
	pr.AchievedDate, parseErr = time.Parse(time.RFC3339, achieved)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing achieved_date %q: %w", achieved, parseErr)
	}
	return &pr, nil
}
