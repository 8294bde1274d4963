package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, name, email, locale, age, weight_kg, fitness_level, injury_history,
	training_preferences, strava_athlete_id, strava_access_token, strava_refresh_token,
	strava_token_expires_at, telegram_chat_id`

// CreateUser inserts a user and sets its ID.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.Locale == "" {
		u.Locale = "en"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			name, email, locale, age, weight_kg, fitness_level, injury_history,
			training_preferences, strava_athlete_id, strava_access_token,
			strava_refresh_token, strava_token_expires_at, telegram_chat_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.Name, u.Email, u.Locale, u.Age, u.WeightKg, u.FitnessLevel, u.InjuryHistory,
		u.TrainingPreferences, u.StravaAthleteID, nullString(u.AccessToken),
		nullString(u.RefreshToken), nullTime(u.TokenExpiresAt), u.TelegramChatID,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUsersWithStravaTokens returns every user who connected Strava
func (s *Store) ListUsersWithStravaTokens(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE strava_access_token IS NOT NULL AND strava_access_token != ''
			AND strava_refresh_token IS NOT NULL AND strava_refresh_token != ''
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateStravaTokens persists a refreshed token set for the user
func (s *Store) UpdateStravaTokens(ctx context.Context, userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET strava_access_token = ?, strava_refresh_token = ?, strava_token_expires_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, accessToken, refreshToken, formatTime(expiresAt), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// LinkStrava stores the athlete id and first token set after the user
// authorizes the application.
func (s *Store) LinkStrava(ctx context.Context, userID, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET strava_athlete_id = ?, strava_access_token = ?, strava_refresh_token = ?,
			strava_token_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, athleteID, accessToken, refreshToken, formatTime(expiresAt), userID)
	if err != nil {
		return fmt.Errorf("linking strava for user %d: %w", userID, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var fitness, access, refresh, expires sql.NullString
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Locale, &u.Age, &u.WeightKg, &fitness, &u.InjuryHistory,
		&u.TrainingPreferences, &u.StravaAthleteID, &access, &refresh, &expires, &u.TelegramChatID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	if fitness.Valid {
		lvl := FitnessLevel(fitness.String)
		u.FitnessLevel = &lvl
	}
	u.AccessToken = access.String
	u.RefreshToken = refresh.String
	if u.TokenExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, fmt.Errorf("parsing strava_token_expires_at %q: %w", expires.String, err)
	}
	return &u, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
