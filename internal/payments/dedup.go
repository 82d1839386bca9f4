package payments

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = 24 * time.Hour

// RedisDeduper remembers webhook event ids with a SETNX-style guard so
// gateway redelivery of the same event is detected cheaply before any
// database work.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (d *RedisDeduper) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKey(eventID), 1, dedupTTL).Result()
}

// Release drops the event id after a failed apply so the gateway's
// redelivery is not misread as a duplicate.
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupKey(eventID)).Err()
}

func dedupKey(eventID string) string {
	return "payments:webhook:" + eventID
}
