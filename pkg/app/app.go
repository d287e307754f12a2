package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/config"
	"github.com/platinummonkey/viewcount/pkg/observability"
	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/storage/postgres"
	"github.com/platinummonkey/viewcount/pkg/storage/sqlite"
	"github.com/platinummonkey/viewcount/pkg/views"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
	"github.com/platinummonkey/viewcount/pkg/wal"
)

// Stores holds the opened storage tiers.
type Stores struct {
	Durable storage.DurableStore
	Fast    *postgres.RedisCounterStore

	// DBStats reports the durable store's primary pool statistics.
	DBStats func() sql.DBStats

	// Conns is set for the postgres backend so replicas can be health-checked.
	Conns *postgres.ConnectionManager
}

// OpenStores opens the durable store selected by cfg.DurableType and the Redis
// counter store.
func OpenStores(ctx context.Context, cfg storage.Config, log *logrus.Logger) (*Stores, error) {
	stores := &Stores{}

	switch cfg.DurableType {
	case "postgres":
		cm, err := postgres.NewConnectionManager(postgres.ConnectionConfigFromStorage(cfg), log)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, cm.Primary()); err != nil {
			cm.Close()
			return nil, fmt.Errorf("migrate durable store: %w", err)
		}
		stores.Conns = cm
		stores.Durable = postgres.NewPostgresStore(cm, cfg.DurableOpTimeout, log)
		stores.DBStats = cm.PrimaryStats
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath, cfg.DurableOpTimeout, log)
		if err != nil {
			return nil, err
		}
		stores.Durable = store
		stores.DBStats = store.DB().Stats
	default:
		return nil, fmt.Errorf("unknown durable store type %q", cfg.DurableType)
	}

	fast, err := postgres.NewRedisCounterStore(cfg, log)
	if err != nil {
		stores.Durable.Close()
		return nil, err
	}
	stores.Fast = fast

	log.WithFields(logrus.Fields{
		"durable": cfg.DurableType,
	}).Info("Storage initialized")
	return stores, nil
}

// RedisPoolStats reports the fast store's connection pool statistics.
func (s *Stores) RedisPoolStats() *redis.PoolStats {
	return s.Fast.GetPoolStats()
}

// Close closes both tiers.
func (s *Stores) Close() error {
	var errs []error
	if s.Fast != nil {
		errs = append(errs, s.Fast.Close())
	}
	if s.Durable != nil {
		errs = append(errs, s.Durable.Close())
	}
	return errors.Join(errs...)
}

// OpenWAL opens the write-ahead log, or returns nil when it is disabled.
func OpenWAL(cfg config.WALConfig, log *logrus.Logger) (*wal.Log, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return wal.Open(wal.Config{
		Path:          cfg.Path,
		ReplayLimit:   cfg.ReplayLimit,
		SyncWrites:    cfg.SyncWrites,
		ReplayTimeout: cfg.ReplayTimeout,
	}, log)
}

// RecoverWAL replays the log's pending entries into the fast store.
func RecoverWAL(ctx context.Context, w *wal.Log, fast wal.Replayer, log *logrus.Logger) error {
	replayed, err := w.RecoverPending(ctx, fast)
	if err != nil {
		return fmt.Errorf("recover write-ahead log: %w", err)
	}
	log.WithFields(logrus.Fields{
		"path":     w.Path(),
		"replayed": replayed,
	}).Info("Write-ahead log recovered")
	return nil
}

// NewRecorder builds the view recorder. A nil w records without a local log.
func NewRecorder(stores *Stores, w *wal.Log, metrics viewstats.MetricsRecorder, log *logrus.Logger) *views.Recorder {
	var walLog views.WriteAheadLog
	if w != nil {
		walLog = w
	}
	return views.NewRecorder(stores.Fast, stores.Durable, walLog, metrics, log)
}

// NewMetrics registers the Prometheus metrics on registry and, when OTel is
// enabled, fans every hook out to the OTel instruments as well.
func NewMetrics(cfg config.ObservabilityConfig, registry *prometheus.Registry) (viewstats.MetricsRecorder, *observability.Metrics, error) {
	prom := observability.NewMetrics(registry)
	if !cfg.OTelEnabled {
		return prom, prom, nil
	}

	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("create otel metrics: %w", err)
	}
	return observability.MultiRecorder{prom, otelMetrics}, prom, nil
}

// OTelConfig maps the observability settings onto the OTel bootstrap config.
// role is observability.RoleAPI or observability.RoleWorker.
func OTelConfig(cfg config.ObservabilityConfig, role string) observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        cfg.OTelEnabled,
		Endpoint:       cfg.OTelEndpoint,
		ServiceName:    cfg.OTelServiceName,
		ServiceVersion: cfg.OTelServiceVersion,
		Role:           role,
		Insecure:       cfg.OTelInsecure,
		SampleRatio:    cfg.OTelSampleRatio,
		ExportTimeout:  cfg.OTelExportTimeout,
		ExportInterval: cfg.OTelExportInterval,
	}
}
