package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// RedisPollQueue кладёт задачи опроса в Redis lists, по списку на очередь.
type RedisPollQueue struct {
	client *redis.Client
	prefix string
}

var _ domain.PollQueue = (*RedisPollQueue)(nil)

// NewRedisPollQueue создаёт очередь. Ключ списка: prefix + ":" + имя очереди.
func NewRedisPollQueue(client *redis.Client, prefix string) *RedisPollQueue {
	return &RedisPollQueue{client: client, prefix: prefix}
}

func (q *RedisPollQueue) key(queue string) string {
	return q.prefix + ":" + queue
}

// Enqueue публикует задачу.
func (q *RedisPollQueue) Enqueue(ctx context.Context, task domain.PollTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key(task.Queue), payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", task.Queue, start, err)
	if err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}
