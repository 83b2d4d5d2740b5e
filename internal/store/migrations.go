package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Cycles table - one row per capture cycle
		`CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL,
			gesture TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT 'running'
				CHECK(outcome IN ('running', 'printed', 'generated', 'capture_failed', 'aborted')),
			photo_path TEXT NOT NULL DEFAULT '',
			poem_path TEXT NOT NULL DEFAULT '',
			analysis_path TEXT NOT NULL DEFAULT '',
			poem TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
