package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS item_view_stats (
		item_id      TEXT PRIMARY KEY,
		total_views  BIGINT NOT NULL DEFAULT 0 CHECK (total_views >= 0),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_view_stats_last_updated ON item_view_stats (last_updated)`,
	`CREATE TABLE IF NOT EXISTS viewer_item_views (
		viewer_id   TEXT NOT NULL,
		item_id     TEXT NOT NULL,
		view_count  BIGINT NOT NULL DEFAULT 0 CHECK (view_count >= 0),
		last_viewed TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (viewer_id, item_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_viewer_item_views_item_id ON viewer_item_views (item_id)`,
}

// Migrate creates the view counter tables if they do not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
