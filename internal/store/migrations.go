package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			locale TEXT NOT NULL DEFAULT 'en',
			age INTEGER,
			weight_kg REAL,
			fitness_level TEXT,
			injury_history TEXT,
			training_preferences TEXT,
			strava_athlete_id INTEGER,
			strava_access_token TEXT,
			strava_refresh_token TEXT,
			strava_token_expires_at TEXT,
			telegram_chat_id INTEGER,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS objectives (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			target_date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			description TEXT,
			enhancement_prompt TEXT,
			running_days TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_objectives_user_status ON objectives(user_id, status)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			external_id INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			distance REAL NOT NULL,
			moving_time INTEGER NOT NULL,
			elapsed_time INTEGER NOT NULL,
			start_date TEXT,
			zone_data TEXT,
			z1_time INTEGER NOT NULL DEFAULT 0,
			z2_time INTEGER NOT NULL DEFAULT 0,
			z3_time INTEGER NOT NULL DEFAULT 0,
			z4_time INTEGER NOT NULL DEFAULT 0,
			z5_time INTEGER NOT NULL DEFAULT 0,
			intensity_score REAL,
			zone_data_available INTEGER NOT NULL DEFAULT 0,
			short_evaluation TEXT,
			extended_evaluation TEXT,
			recovery_score REAL,
			estimated_recovery_hours INTEGER,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activities_user_start ON activities(user_id, start_date)`,

		`CREATE TABLE IF NOT EXISTS daily_recommendations (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			objective_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			reasoning TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, date),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (objective_id) REFERENCES objectives(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS workout_feedback (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			daily_recommendation_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			difficulty_rating INTEGER,
			enjoyment_rating INTEGER,
			notes TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, daily_recommendation_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (daily_recommendation_id) REFERENCES daily_recommendations(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS personal_records (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL,
			record_type TEXT NOT NULL,
			value REAL NOT NULL,
			achieved_date TEXT NOT NULL,
			activity_id INTEGER NOT NULL,
			UNIQUE (user_id, record_type),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_personal_records_activity ON personal_records(activity_id)`,

		// Named, time-bounded leases (per-user plan generation, per-activity enrichment)
		`CREATE TABLE IF NOT EXISTS leases (
			key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,

		// Background task queue
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			run_after TEXT NOT NULL,
			last_error TEXT,
			locked_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_runnable ON jobs(status, run_after)`,

		`CREATE TABLE IF NOT EXISTS activity_outbox (
			id INTEGER PRIMARY KEY,
			activity_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL,
			published_at TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_outbox_pending ON activity_outbox(published_at, id)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
