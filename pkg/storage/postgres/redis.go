package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/storage"
	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

const (
	syncQueueKey    = "item:sync_queue"
	totalViewsField = "total_views"
)

func statsKey(itemID string) string   { return fmt.Sprintf("item:%s:stats", itemID) }
func viewersKey(itemID string) string { return fmt.Sprintf("item:%s:viewers", itemID) }
func uniqueKey(itemID string) string  { return fmt.Sprintf("item:%s:unique_viewers", itemID) }

// RedisCounterStore implements storage.FastCounterStore on Redis
type RedisCounterStore struct {
	client    *redis.Client
	ttl       time.Duration
	opTimeout time.Duration
	log       *logrus.Logger
}

// NewRedisCounterStore creates a new Redis-backed counter store
func NewRedisCounterStore(config storage.Config, log *logrus.Logger) (*RedisCounterStore, error) {
	if log == nil {
		log = logrus.New()
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCounterStoreFromClient(client, config.CounterTTL, config.FastOpTimeout, log), nil
}

// NewRedisCounterStoreFromClient wraps an existing client without pinging it
func NewRedisCounterStoreFromClient(client *redis.Client, ttl, opTimeout time.Duration, log *logrus.Logger) *RedisCounterStore {
	if log == nil {
		log = logrus.New()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &RedisCounterStore{
		client:    client,
		ttl:       ttl,
		opTimeout: opTimeout,
		log:       log,
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, viewstats.ErrStoreUnavailable, err)
}

// RecordView applies all five effects of a view inside one MULTI/EXEC block
func (s *RedisCounterStore) RecordView(ctx context.Context, itemID, viewerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	sk, vk, uk := statsKey(itemID), viewersKey(itemID), uniqueKey(itemID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, sk, totalViewsField, 1)
		pipe.HIncrBy(ctx, vk, viewerID, 1)
		pipe.PFAdd(ctx, uk, viewerID)
		pipe.LPush(ctx, syncQueueKey, itemID)
		pipe.Expire(ctx, sk, s.ttl)
		pipe.Expire(ctx, vk, s.ttl)
		pipe.Expire(ctx, uk, s.ttl)
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("item_id", itemID).Error("Redis record view failed")
		return unavailable("record view", err)
	}
	return nil
}

// GetStats reads the live counters of an item in one round trip
func (s *RedisCounterStore) GetStats(ctx context.Context, itemID string) (*viewstats.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var (
		totals  *redis.StringStringMapCmd
		viewers *redis.StringStringMapCmd
		unique  *redis.IntCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		totals = pipe.HGetAll(ctx, statsKey(itemID))
		viewers = pipe.HGetAll(ctx, viewersKey(itemID))
		unique = pipe.PFCount(ctx, uniqueKey(itemID))
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("item_id", itemID).Error("Redis stats query failed")
		return nil, unavailable("get stats", err)
	}

	totalFields := totals.Val()
	viewerFields := viewers.Val()
	if len(totalFields) == 0 && len(viewerFields) == 0 {
		return nil, nil
	}

	stats := viewstats.NewStats()
	stats.Source = viewstats.SourceFast
	stats.UniqueViews = unique.Val()

	if raw, ok := totalFields[totalViewsField]; ok {
		total, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, unavailable("get stats", fmt.Errorf("malformed total for item %s: %w", itemID, err))
		}
		stats.TotalViews = total
	}

	for viewerID, raw := range viewerFields {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, unavailable("get stats", fmt.Errorf("malformed count for viewer %s: %w", viewerID, err))
		}
		stats.UserViews[viewerID] = count
	}

	return stats, nil
}

// QueueLength returns the pending-sync queue size
func (s *RedisCounterStore) QueueLength(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.client.LLen(ctx, syncQueueKey).Result()
	if err != nil {
		return 0, unavailable("queue length", err)
	}
	return n, nil
}

// DrainQueue pops up to maxCount ids from the tail of the queue. Entries are LPUSHed at the
// head, so this is FIFO. Each RPOP is atomic, so concurrent drains never share an entry
func (s *RedisCounterStore) DrainQueue(ctx context.Context, maxCount int) ([]string, error) {
	if maxCount <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := 0; i < maxCount; i++ {
			pipe.RPop(ctx, syncQueueKey)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("drain queue", err)
	}

	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		id, err := cmd.(*redis.StringCmd).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return ids, unavailable("drain queue", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// HealthCheck checks Redis connectivity
func (s *RedisCounterStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// GetPoolStats returns connection pool statistics
func (s *RedisCounterStore) GetPoolStats() *redis.PoolStats {
	return s.client.PoolStats()
}

// Close closes the Redis connection
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}
