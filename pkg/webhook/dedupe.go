package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeCache is a best-effort, TTL-bounded fast path in front of the
// repository's authoritative recordEventIfNew unique-key check (§4.3). It
// exists purely to absorb a burst of replayed deliveries without a
// round-trip to Postgres for each one; a cache miss or a Redis outage is
// never fatal; the repository's unique constraint is the source of truth.
type DedupeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupeCache(client *redis.Client, ttl time.Duration) *DedupeCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupeCache{client: client, ttl: ttl}
}

// SeenRecently reports whether deliveryID was marked seen within ttl. A
// Redis error is treated as "not seen" so the authoritative DB check still
// runs; the cache degrading never blocks ingestion.
func (c *DedupeCache) SeenRecently(ctx context.Context, deliveryID string) bool {
	if c == nil || c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, dedupeKey(deliveryID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkSeen records deliveryID for ttl. Errors are swallowed for the same
// reason as SeenRecently: the cache is an optimization, not a guarantee.
func (c *DedupeCache) MarkSeen(ctx context.Context, deliveryID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Set(ctx, dedupeKey(deliveryID), "1", c.ttl)
}

func dedupeKey(deliveryID string) string {
	return "ralph:webhook:delivery:" + deliveryID
}
