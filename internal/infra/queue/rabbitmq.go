package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// RabbitPollQueue публикует задачи опроса в durable очереди RabbitMQ
// с подтверждением публикации.
type RabbitPollQueue struct {
	url    string
	prefix string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

var _ domain.PollQueue = (*RabbitPollQueue)(nil)

// NewRabbitPollQueue создаёт очередь. Имя очереди RabbitMQ: prefix + "." + имя очереди задачи.
func NewRabbitPollQueue(amqpURL, prefix string) (*RabbitPollQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	q := &RabbitPollQueue{url: amqpURL, prefix: prefix}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitPollQueue) connectLocked() error {
	if q.conn == nil || q.conn.IsClosed() {
		conn, err := amqp.Dial(q.url)
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		q.conn = conn
		q.ch = nil
	}
	if q.ch == nil || q.ch.IsClosed() {
		ch, err := q.conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("enable confirms: %w", err)
		}
		q.ch = ch
		q.declared = make(map[string]struct{})
	}
	return nil
}

func (q *RabbitPollQueue) name(queue string) string {
	if q.prefix == "" {
		return queue
	}
	return q.prefix + "." + queue
}

// Enqueue публикует задачу и ждёт подтверждения брокера.
func (q *RabbitPollQueue) Enqueue(ctx context.Context, task domain.PollTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	name := q.name(task.Queue)

	start := time.Now()
	err = q.publish(ctx, name, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Timestamp:    task.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", name, start, err)
	return err
}

func (q *RabbitPollQueue) publish(ctx context.Context, name string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.connectLocked(); err != nil {
		return err
	}
	if _, ok := q.declared[name]; !ok {
		if _, err := q.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		q.declared[name] = struct{}{}
	}

	confirm, err := q.ch.PublishWithDeferredConfirmWithContext(ctx, "", name, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish task: broker nacked message %s", msg.MessageId)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitPollQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
