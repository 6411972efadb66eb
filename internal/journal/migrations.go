package journal

import (
	"fmt"
)

// migrate runs all pending migrations
func (j *Journal) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := j.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	j.logger.Debug("current journal schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE acquisitions (
					id TEXT PRIMARY KEY,
					owner TEXT NOT NULL,
					repo TEXT NOT NULL,
					ref TEXT,
					commit_sha TEXT,
					transport TEXT,
					mirror TEXT,
					target_dir TEXT NOT NULL,
					bytes INTEGER DEFAULT 0,
					sha256 TEXT,
					status TEXT NOT NULL,
					error_message TEXT,
					start_time DATETIME NOT NULL,
					end_time DATETIME
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE INDEX idx_acquisitions_repo ON acquisitions(owner, repo, start_time);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			j.logger.Info("running journal migration", "version", mig.version)

			if err := j.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (j *Journal) runMigration(version int, sql string) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
