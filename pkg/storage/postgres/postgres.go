package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

const (
	incrementItemQuery = `
		INSERT INTO item_view_stats (item_id, total_views, last_updated)
		VALUES ($1, 1, $2)
		ON CONFLICT (item_id) DO UPDATE SET
			total_views = item_view_stats.total_views + 1,
			last_updated = EXCLUDED.last_updated
	`
	incrementViewerQuery = `
		INSERT INTO viewer_item_views (viewer_id, item_id, view_count, last_viewed)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (viewer_id, item_id) DO UPDATE SET
			view_count = viewer_item_views.view_count + 1,
			last_viewed = EXCLUDED.last_viewed
	`
	overwriteItemQuery = `
		INSERT INTO item_view_stats (item_id, total_views, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET
			total_views = EXCLUDED.total_views,
			last_updated = EXCLUDED.last_updated
	`
	overwriteViewerQuery = `
		INSERT INTO viewer_item_views (viewer_id, item_id, view_count, last_viewed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (viewer_id, item_id) DO UPDATE SET
			view_count = EXCLUDED.view_count,
			last_viewed = EXCLUDED.last_viewed
	`
	selectItemQuery = `
		SELECT total_views FROM item_view_stats WHERE item_id = $1
	`
	selectViewersQuery = `
		SELECT viewer_id, view_count FROM viewer_item_views WHERE item_id = $1
	`
	selectRecentQuery = `
		SELECT item_id, total_views, last_updated
		FROM item_view_stats
		WHERE last_updated >= $1
		ORDER BY last_updated DESC
	`
	setTotalQuery = `
		UPDATE item_view_stats SET total_views = $2 WHERE item_id = $1
	`
)

// PostgresStore implements storage.DurableStore on PostgreSQL
type PostgresStore struct {
	conns     Conns
	opTimeout time.Duration
	log       *logrus.Logger
	now       func() time.Time
}

// NewPostgresStore creates a durable store. Writes go to conns.Primary(), item stats
// reads to conns.Replica()
func NewPostgresStore(conns Conns, opTimeout time.Duration, log *logrus.Logger) *PostgresStore {
	if log == nil {
		log = logrus.New()
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &PostgresStore{
		conns:     conns,
		opTimeout: opTimeout,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func persistence(op string, err error) error {
	return fmt.Errorf("postgres %s: %w: %w", op, viewstats.ErrPersistence, err)
}

// withTx runs fn inside one transaction on the primary
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conns.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IncrementView creates or increments the item row and, unless the viewer is anonymous,
// the viewer row
func (s *PostgresStore) IncrementView(ctx context.Context, itemID, viewerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, incrementItemQuery, itemID, now); err != nil {
			return fmt.Errorf("failed to increment item stats: %w", err)
		}
		if viewerID == viewstats.AnonymousViewerID {
			return nil
		}
		if _, err := tx.ExecContext(ctx, incrementViewerQuery, viewerID, itemID, now); err != nil {
			return fmt.Errorf("failed to increment viewer views: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistence("increment view", err)
	}
	return nil
}

// SyncItem overwrites durable counts with the given fast-store values
func (s *PostgresStore) SyncItem(ctx context.Context, itemID string, stats *viewstats.Stats) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, overwriteItemQuery, itemID, stats.TotalViews, now); err != nil {
			return fmt.Errorf("failed to overwrite item stats: %w", err)
		}
		for viewerID, count := range stats.UserViews {
			if viewerID == viewstats.AnonymousViewerID {
				continue
			}
			if _, err := tx.ExecContext(ctx, overwriteViewerQuery, viewerID, itemID, count, now); err != nil {
				return fmt.Errorf("failed to overwrite viewer %s: %w", viewerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return persistence("sync item", err)
	}
	return nil
}

// GetStats reads the durable view of an item from a replica
func (s *PostgresStore) GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	db := s.conns.Replica()
	stats := viewstats.NewStats()
	stats.Source = viewstats.SourceDurable

	err := db.QueryRowContext(ctx, selectItemQuery, itemID).Scan(&stats.TotalViews)
	if err != nil && err != sql.ErrNoRows {
		return nil, persistence("get item stats", err)
	}

	rows, err := db.QueryContext(ctx, selectViewersQuery, itemID)
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

// ListRecentlyUpdated returns item rows touched at or after since
func (s *PostgresStore) ListRecentlyUpdated(ctx context.Context, since time.Time) ([]viewstats.ItemStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	rows, err := s.conns.Primary().QueryContext(ctx, selectRecentQuery, since)
	if err != nil {
		return nil, persistence("list recent items", err)
	}
	defer rows.Close()

	var items []viewstats.ItemStats
	for rows.Next() {
		var item viewstats.ItemStats
		if err := rows.Scan(&item.ItemID, &item.TotalViews, &item.LastUpdated); err != nil {
			return nil, persistence("scan recent item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate recent items", err)
	}
	return items, nil
}

// SetTotalViews writes a repaired total without touching last_updated
func (s *PostgresStore) SetTotalViews(ctx context.Context, itemID string, total int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.conns.Primary().ExecContext(ctx, setTotalQuery, itemID, total); err != nil {
		return persistence("set total views", err)
	}
	return nil
}

// HealthCheck pings the primary
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.conns.Primary().PingContext(ctx)
}

// Close closes the underlying connections when they are owned by a ConnectionManager
func (s *PostgresStore) Close() error {
	if closer, ok := s.conns.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
