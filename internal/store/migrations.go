package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS locations (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id INTEGER NOT NULL,
    model_key TEXT NOT NULL,
    metric_key TEXT NOT NULL,
    target_time DATETIME NOT NULL,
    forecast_value REAL NOT NULL,
    lead_hours INTEGER NOT NULL,
    generated_at DATETIME NOT NULL,
    UNIQUE(location_id, model_key, metric_key, target_time)
);

CREATE TABLE IF NOT EXISTS actual_weather (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id INTEGER NOT NULL,
    time DATETIME NOT NULL,
    temperature REAL,
    rain REAL,
    snowfall REAL,
    wind_speed REAL,
    wind_gusts REAL,
    cloud_cover REAL,
    visibility REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(location_id, time)
);

CREATE TABLE IF NOT EXISTS historical_forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    location_id INTEGER NOT NULL,
    model_key TEXT NOT NULL,
    metric_key TEXT NOT NULL,
    target_time DATETIME NOT NULL,
    lead_hours INTEGER NOT NULL,
    forecast_value REAL NOT NULL,
    actual_value REAL NOT NULL,
    abs_error REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accuracy_scores (
    location_id INTEGER NOT NULL,
    model_key TEXT NOT NULL,
    metric_key TEXT NOT NULL,
    interval_key TEXT NOT NULL,
    mean_abs_error REAL NOT NULL,
    hours_tracked INTEGER NOT NULL,
    PRIMARY KEY (location_id, model_key, metric_key, interval_key)
);

CREATE INDEX IF NOT EXISTS idx_pending_target ON pending_forecasts(target_time);
CREATE INDEX IF NOT EXISTS idx_actual_loc_time ON actual_weather(location_id, time);
CREATE INDEX IF NOT EXISTS idx_history_loc_target ON historical_forecasts(location_id, target_time);
`,
	},
	{
		Version:     2,
		Description: "Leadership lease for multi-replica deployments",
		SQL: `
CREATE TABLE IF NOT EXISTS leases (
    id TEXT PRIMARY KEY,
    holder_id TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL
);
`,
	},
	{
		Version:     3,
		Description: "Raw payload capture for re-normalization",
		SQL: `
CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fetched_at DATETIME NOT NULL,
    model_key TEXT NOT NULL,
    location_id INTEGER NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    payload_gz BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_fetched ON raw_payloads(fetched_at);
`,
	},
}

func (s *SQLiteStore) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *SQLiteStore) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *SQLiteStore) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *SQLiteStore) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
