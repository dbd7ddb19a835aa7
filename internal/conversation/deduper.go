package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultDedupeTTL = 24 * time.Hour

// RedisDeduper marks message ids with SET NX so redelivered transport
// messages are processed once.
type RedisDeduper struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisDeduper{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("clinic.internal.conversation.dedupe"),
	}
}

func (d *RedisDeduper) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	ctx, span := d.tracer.Start(ctx, "conversation.dedupe")
	defer span.End()

	ok, err := d.redis.SetNX(ctx, dedupeKey(messageID), 1, d.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("conversation: failed to mark message: %w", err)
	}
	return ok, nil
}

func dedupeKey(messageID string) string {
	return "inbound:seen:" + messageID
}
