package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: meter state and cycle history
	`CREATE TABLE IF NOT EXISTS meter_state (
		meter_id     TEXT PRIMARY KEY,
		balance      INTEGER NOT NULL,
		usage_kwh    REAL NOT NULL DEFAULT 0,
		observed_at  INTEGER NOT NULL,
		attempted_at INTEGER NOT NULL,
		last_kind    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cycles (
		id           TEXT PRIMARY KEY,
		started_at   INTEGER NOT NULL,
		finished_at  INTEGER NOT NULL,
		meters       INTEGER NOT NULL,
		succeeded    INTEGER NOT NULL,
		failed       INTEGER NOT NULL,
		recharges    INTEGER NOT NULL,
		anomalies    INTEGER NOT NULL,
		notified     INTEGER NOT NULL,
		notify_error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);

	CREATE TABLE IF NOT EXISTS classifications (
		cycle_id         TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
		meter_id         TEXT NOT NULL,
		kind             TEXT NOT NULL,
		previous_balance INTEGER NOT NULL,
		current_balance  INTEGER NOT NULL,
		delta            INTEGER NOT NULL,
		summary          TEXT NOT NULL,
		state_updated    INTEGER NOT NULL,
		PRIMARY KEY (cycle_id, meter_id)
	);`,
	// Migration 2: portal reading time of the baseline, kept apart from the fetch time
	`ALTER TABLE meter_state ADD COLUMN source_time INTEGER NOT NULL DEFAULT 0;`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
