package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

// FastCounterStore is the low-latency shared counter tier.
//
// Every error returned by an implementation wraps viewstats.ErrStoreUnavailable.
type FastCounterStore interface {
	// RecordView increments the item total and the viewer's counter, adds the viewer to the
	// distinct-viewer estimator, enqueues the item for sync and renews the per-item TTL.
	// All effects commit together or none do.
	RecordView(ctx context.Context, itemID, viewerID string) error

	// GetStats returns the live counters for an item. A nil result with a nil error means
	// the item has no live state (expired or never written).
	GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error)

	// QueueLength returns the number of entries in the pending-sync queue.
	QueueLength(ctx context.Context) (int64, error)

	// DrainQueue removes up to maxCount entries from the pending-sync queue in FIFO order.
	// Duplicates are returned as-is.
	DrainQueue(ctx context.Context, maxCount int) ([]string, error)

	HealthCheck(ctx context.Context) error
}

// DurableStore is the relational record of per-item and per-viewer counts.
//
// Mutations are scoped to one local transaction per item. Every error returned by an
// implementation wraps viewstats.ErrPersistence.
type DurableStore interface {
	// IncrementView is the degraded write: it creates or increments the item row and, for a
	// non-anonymous viewer, the viewer row, in one transaction.
	IncrementView(ctx context.Context, itemID, viewerID string) error

	// SyncItem overwrites the item total and every non-anonymous viewer count with the
	// given values in one transaction.
	SyncItem(ctx context.Context, itemID string, stats *viewstats.Stats) error

	// GetStats reads the durable view of an item. A missing item row yields a zero total.
	GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error)

	// ListRecentlyUpdated returns item rows whose last_updated is at or after since.
	ListRecentlyUpdated(ctx context.Context, since time.Time) ([]viewstats.ItemStats, error)

	// SetTotalViews writes a repaired total directly, leaving last_updated untouched.
	SetTotalViews(ctx context.Context, itemID string, total int64) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for the storage backends.
type Config struct {
	// DurableType selects the durable backend: "postgres" or "sqlite".
	DurableType string `yaml:"durable_type"`

	// PostgreSQL config
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`

	// SQLite config
	SQLitePath string `yaml:"sqlite_path"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// CounterTTL is the renewable expiry of every per-item fast store key.
	CounterTTL time.Duration `yaml:"counter_ttl"`

	// Per-call bounds. A timeout is treated as unavailability.
	FastOpTimeout    time.Duration `yaml:"fast_op_timeout"`
	DurableOpTimeout time.Duration `yaml:"durable_op_timeout"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DurableType:      "postgres",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       "/var/lib/viewcount/views.db",
		RedisURL:         "redis://localhost:6379/0",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CounterTTL:       24 * time.Hour,
		FastOpTimeout:    3 * time.Second,
		DurableOpTimeout: 5 * time.Second,
	}
}
