// Package storage defines the two storage tiers of the view counter.
//
// # Tiers
//
// FastCounterStore is a shared, low-latency key-value service. For every item it keeps a
// total-views counter, a viewer-to-count map and an approximate distinct-viewer estimator,
// all expiring 24 hours after the last write. A single pending-sync queue (no expiry)
// receives one item id per successful write.
//
// DurableStore is relational persistence. It holds one aggregate row per item and one row
// per (viewer, item) pair. It is written on three paths:
//
//   - the degraded write path, when the fast store is unreachable (increment)
//   - the sync job, which copies fast values over durable ones (overwrite)
//   - the consistency validator, which repairs drifted totals (direct write)
//
// The fast tier is authoritative for reads whenever it is reachable. Durable values may lag.
//
// # Backends
//
// Package postgres provides the production pair: RedisCounterStore and PostgresStore.
// Package sqlite provides a single-node DurableStore.
//
//	cfg := storage.DefaultConfig()
//	cfg.RedisURL = "redis://cache:6379/0"
//	fast, err := postgres.NewRedisCounterStore(cfg, logger)
//
// # Key namespace
//
//	item:{id}:stats           hash   total_views
//	item:{id}:viewers         hash   viewer id -> count
//	item:{id}:unique_viewers  HLL    distinct viewers
//	item:sync_queue           list   pending item ids (LPUSH in, RPOP out)
package storage
