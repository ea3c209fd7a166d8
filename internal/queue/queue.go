// Package queue is the background task port used for domain events and
// notifications, with an asynq adapter.
package queue

import "context"

// Task is a background job: a stable type name and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// Handler processes a Task. A non-nil error asks for a retry; handlers
// must therefore be idempotent.
type Handler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behaviour. Zero values mean unspecified.
type EnqueueOption struct {
	Queue    string
	MaxRetry int
}

// Client enqueues tasks.
type Client interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// Server runs workers. Run blocks until ctx is cancelled.
type Server interface {
	Register(taskType string, h Handler)
	Run(ctx context.Context) error
}
