package domain

import (
	"context"
	"time"
)

// PollTaskDateFormat формат last_polled в задаче опроса.
const PollTaskDateFormat = "2006-01-02-15-04-05"

// Очереди задач опроса.
const (
	PollQueueName    = "poll"
	PollNowQueueName = "poll-now"
)

// PollTask описывает задачу опроса аккаунта. Выполняется внешним воркером.
type PollTask struct {
	ID          string    `json:"task_id"`
	Queue       string    `json:"queue"`
	Site        string    `json:"site"`
	AccountID   string    `json:"account_id"`
	LastPolled  string    `json:"last_polled"`
	RequestedAt time.Time `json:"requested_at"`
}

// PollQueue: очередь задач опроса с доставкой at-least-once.
type PollQueue interface {
	Enqueue(ctx context.Context, task PollTask) error
}
