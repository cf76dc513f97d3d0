package statusbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans out status events over Redis pub/sub, reusing the
// same Redis instance internal/lock already requires for ownership
// locking — a fleet running Redis gets the status bus transport for
// free.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	if err := p.client.Publish(ctx, group, payload).Err(); err != nil {
		return fmt.Errorf("statusbus: redis publish: %w", err)
	}
	return nil
}
