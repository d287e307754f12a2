package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single versioned schema change.
type migration struct {
	Version int
	Name    string
	SQL     []string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: []string{
			`CREATE TABLE IF NOT EXISTS item_view_stats (
				item_id      TEXT PRIMARY KEY,
				total_views  INTEGER NOT NULL DEFAULT 0 CHECK (total_views >= 0),
				last_updated INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_item_view_stats_last_updated ON item_view_stats (last_updated)`,
			`CREATE TABLE IF NOT EXISTS viewer_item_views (
				viewer_id   TEXT NOT NULL,
				item_id     TEXT NOT NULL,
				view_count  INTEGER NOT NULL DEFAULT 0 CHECK (view_count >= 0),
				last_viewed INTEGER NOT NULL,
				PRIMARY KEY (viewer_id, item_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_viewer_item_views_item_id ON viewer_item_views (item_id)`,
		},
	},
}

// migrate applies every migration not yet recorded in schema_migrations.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}
		if err := apply(db, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.SQL {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
