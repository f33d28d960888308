// README: Publish side of the broker, used by the sim server and the driver's
// location feed.
package push

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher sends one message to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.rdb.Publish(ctx, topic, payload).Err()
}
