package reply

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/personifeed/internal/pkg/logger"
)

// RedisDeduper suppresses duplicate webhook deliveries using SET NX with a
// TTL. It fails open: if Redis is down, events flow through and duplicate
// feedback entries are tolerated as the at-least-once cost.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper. ttl bounds how long a message ID is
// remembered; provider redelivery windows are hours, not days.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// Seen reports whether this message ID was already handled, marking it as
// handled as a side effect.
func (d *RedisDeduper) Seen(ctx context.Context, messageID string) bool {
	ok, err := d.client.SetNX(ctx, "inbound:"+messageID, 1, d.ttl).Result()
	if err != nil {
		logger.Warn("inbound dedup check failed, letting event through", "error", err)
		return false
	}
	return !ok
}
