package ingest

import (
	"context"
	"log/slog"
	"time"

	"omnidesk/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper tracks persisted payload keys in Redis with a TTL.
// Best-effort: any Redis failure is logged and reported as unseen so the
// payload proceeds to the store, whose uniqueness constraint is the real
// guard.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl, log: log}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) bool {
	n, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		d.log.Warn("dedupe lookup failed, passing through", "key", key, "err", err)
		return false
	}
	return n > 0
}

func (d *RedisDeduper) Mark(ctx context.Context, key string) {
	if _, err := utils.MarkOnce(ctx, d.rdb, key, d.ttl); err != nil {
		d.log.Warn("dedupe marker failed", "key", key, "err", err)
	}
}
