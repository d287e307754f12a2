// Package sqlite provides a single-node DurableStore backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// SQLiteStore implements storage.DurableStore backed by a SQLite database.
// Timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	db        *sql.DB
	opTimeout time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// Open opens (creating if needed) and migrates the database at path. Use ":memory:" for an
// ephemeral database.
func Open(path string, opTimeout time.Duration, log *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite serializes writers, and each :memory: connection is its own database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return New(db, opTimeout, log), nil
}

// New wraps an already-opened and migrated database.
func New(db *sql.DB, opTimeout time.Duration, log *logrus.Logger) *SQLiteStore {
	if log == nil {
		log = logrus.New()
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &SQLiteStore{
		db:        db,
		opTimeout: opTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func persistence(op string, err error) error {
	return fmt.Errorf("sqlite %s: %w: %w", op, viewstats.ErrPersistence, err)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) IncrementView(ctx context.Context, itemID, viewerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now().UnixNano()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_view_stats (item_id, total_views, last_updated) VALUES (?, 1, ?)
			ON CONFLICT (item_id) DO UPDATE SET
				total_views = total_views + 1,
				last_updated = excluded.last_updated
		`, itemID, now); err != nil {
			return fmt.Errorf("increment item stats: %w", err)
		}
		if viewerID == viewstats.AnonymousViewerID {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO viewer_item_views (viewer_id, item_id, view_count, last_viewed) VALUES (?, ?, 1, ?)
			ON CONFLICT (viewer_id, item_id) DO UPDATE SET
				view_count = view_count + 1,
				last_viewed = excluded.last_viewed
		`, viewerID, itemID, now); err != nil {
			return fmt.Errorf("increment viewer views: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistence("increment view", err)
	}
	return nil
}

func (s *SQLiteStore) SyncItem(ctx context.Context, itemID string, stats *viewstats.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now().UnixNano()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_view_stats (item_id, total_views, last_updated) VALUES (?, ?, ?)
			ON CONFLICT (item_id) DO UPDATE SET
				total_views = excluded.total_views,
				last_updated = excluded.last_updated
		`, itemID, stats.TotalViews, now); err != nil {
			return fmt.Errorf("overwrite item stats: %w", err)
		}
		for viewerID, count := range stats.UserViews {
			if viewerID == viewstats.AnonymousViewerID {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO viewer_item_views (viewer_id, item_id, view_count, last_viewed) VALUES (?, ?, ?, ?)
				ON CONFLICT (viewer_id, item_id) DO UPDATE SET
					view_count = excluded.view_count,
					last_viewed = excluded.last_viewed
			`, viewerID, itemID, count, now); err != nil {
				return fmt.Errorf("overwrite viewer %s: %w", viewerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return persistence("sync item", err)
	}
	return nil
}

func (s *SQLiteStore) GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	stats := viewstats.NewStats()
	stats.Source = viewstats.SourceDurable

	err := s.db.QueryRowContext(ctx, "SELECT total_views FROM item_view_stats WHERE item_id = ?", itemID).
		Scan(&stats.TotalViews)
	if err != nil && err != sql.ErrNoRows {
		return nil, persistence("get item stats", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT viewer_id, view_count FROM viewer_item_views WHERE item_id = ?", itemID)
	if err != nil {
		return nil, persistence("list viewer views", err)
	}
	defer rows.Close()

	for rows.Next() {
		var viewerID string
		var count int64
		if err := rows.Scan(&viewerID, &count); err != nil {
			return nil, persistence("scan viewer views", err)
		}
		stats.UserViews[viewerID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate viewer views", err)
	}

	stats.UniqueViews = int64(len(stats.UserViews))
	return stats, nil
}

func (s *SQLiteStore) ListRecentlyUpdated(ctx context.Context, since time.Time) ([]viewstats.ItemStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, total_views, last_updated FROM item_view_stats
		WHERE last_updated >= ?
		ORDER BY last_updated DESC
	`, since.UnixNano())
	if err != nil {
		return nil, persistence("list recent items", err)
	}
	defer rows.Close()

	var items []viewstats.ItemStats
	for rows.Next() {
		var item viewstats.ItemStats
		var updated int64
		if err := rows.Scan(&item.ItemID, &item.TotalViews, &updated); err != nil {
			return nil, persistence("scan recent item", err)
		}
		item.LastUpdated = time.Unix(0, updated).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate recent items", err)
	}
	return items, nil
}

func (s *SQLiteStore) SetTotalViews(ctx context.Context, itemID string, total int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "UPDATE item_view_stats SET total_views = ? WHERE item_id = ?", total, itemID); err != nil {
		return persistence("set total views", err)
	}
	return nil
}

// HealthCheck pings the database within the store's operation timeout.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return persistence("ping", err)
	}
	return nil
}

// DB exposes the handle for health checks and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
