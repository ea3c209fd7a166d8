// Package notify hands new-message notifications to the external delivery
// system. Delivery itself (push, mail) is not done here.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"forumchat/internal/queue"
)

// TaskType is the queue task consumed by the delivery workers.
const TaskType = "notification:new_message"

// Notification announces a message to room participants who did not send it.
type Notification struct {
	RoomID       int64   `json:"room_id"`
	RoomName     string  `json:"room_name"`
	MessageID    int64   `json:"message_id"`
	SenderID     int64   `json:"sender_id"`
	SenderName   string  `json:"sender_name"`
	Preview      string  `json:"preview"`
	RecipientIDs []int64 `json:"recipient_ids"`
}

// Sink accepts notifications. Callers treat failures as non-fatal.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// previewLen bounds the message excerpt carried in a notification.
const previewLen = 140

// Preview shortens content to a notification excerpt on a rune boundary.
func Preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen-1]) + "…"
}

// QueueSink enqueues one task per notification.
type QueueSink struct {
	client   queue.Client
	queue    string
	maxRetry int
}

var _ Sink = (*QueueSink)(nil)

func NewQueueSink(client queue.Client, queueName string, maxRetry int) *QueueSink {
	return &QueueSink{client: client, queue: queueName, maxRetry: maxRetry}
}

func (s *QueueSink) Notify(ctx context.Context, n Notification) error {
	if len(n.RecipientIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = s.client.Enqueue(ctx, queue.Task{Type: TaskType, Payload: payload}, queue.EnqueueOption{
		Queue:    s.queue,
		MaxRetry: s.maxRetry,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// NopSink drops every notification. Used when no queue is configured.
type NopSink struct{}

func (NopSink) Notify(context.Context, Notification) error { return nil }
