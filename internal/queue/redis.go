package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisQueue is the direct list-broker adapter: RPUSH to enqueue at the tail,
// blocking BLPOP to dequeue from the head, so messages come out in FIFO order.
type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

// NewRedisQueue connects a go-redis client from an Upstash-style URL.
func NewRedisQueue(redisURL, queueName string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 3
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{rdb: rdb, queueName: queueName}, nil
}

// newRedisQueueFromClient wires an existing client; used by tests.
func newRedisQueueFromClient(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push RPUSHes one message per envelope.
func (q *RedisQueue) Push(ctx context.Context, envs ...Envelope) error {
	for _, env := range envs {
		msg, err := env.Encode()
		if err != nil {
			return err
		}
		if err := q.rdb.RPush(ctx, q.queueName, msg).Err(); err != nil {
			return fmt.Errorf("rpush %s: %w", q.queueName, err)
		}
		log.Debug().Str("job_id", env.JobID).Str("queue", q.queueName).Msg("Envelope pushed")
	}
	return nil
}

// Pop blocks up to timeout on BLPOP. Returns (nil, nil) when the timeout
// elapsed with no message.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blpop %s: %w", q.queueName, err)
	}
	// BLPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("blpop %s: unexpected reply shape (%d elements)", q.queueName, len(res))
	}
	return DecodeEnvelope(res[1])
}

// Close releases the redis client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
