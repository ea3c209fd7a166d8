// Package events defines the domain events this service consumes and routes
// queue tasks carrying them to a Handler.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"forumchat/internal/queue"
)

// Task types on the event queue.
const (
	TypeEnrollmentCreated       = "enrollment:created"
	TypeEnrollmentStatusChanged = "enrollment:status_changed"
	TypeTutorAssignmentChanged  = "tutor:assignment_changed"
	TypeIdentityChanged         = "identity:changed"
	TypeParentLinkChanged       = "parent_link:changed"
)

// Queue is the asynq queue events are published on.
const Queue = "events"

// Person identifies an identity together with the name chat should show.
type Person struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

type EnrollmentCreated struct {
	EnrollmentID int64  `json:"enrollment_id"`
	Student      Person `json:"student"`
	Teacher      Person `json:"teacher"`
	Subject      string `json:"subject"`
}

type EnrollmentStatusChanged struct {
	EnrollmentID int64 `json:"enrollment_id"`
	IsActive     bool  `json:"is_active"`
}

// TutorAssignmentChanged reports a new, replaced or removed tutor. Either
// side may be nil.
type TutorAssignmentChanged struct {
	Student  Person  `json:"student"`
	OldTutor *Person `json:"old_tutor,omitempty"`
	NewTutor *Person `json:"new_tutor,omitempty"`
}

type IdentityChanged struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	IsActive    bool   `json:"is_active"`
	// Removed deletes the identity; its messages survive without a sender.
	Removed bool `json:"removed"`
}

type ParentLinkChanged struct {
	Parent  Person `json:"parent"`
	Student Person `json:"student"`
	Linked  bool   `json:"linked"`
}

// Handler reacts to domain events. Every method must be safe to re-run with
// the same payload.
type Handler interface {
	EnrollmentCreated(ctx context.Context, ev EnrollmentCreated) error
	EnrollmentStatusChanged(ctx context.Context, ev EnrollmentStatusChanged) error
	TutorAssignmentChanged(ctx context.Context, ev TutorAssignmentChanged) error
	IdentityChanged(ctx context.Context, ev IdentityChanged) error
	ParentLinkChanged(ctx context.Context, ev ParentLinkChanged) error
}

// NewTask encodes an event payload as a queue task.
func NewTask(taskType string, payload any) (queue.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return queue.Task{}, fmt.Errorf("encode %s: %w", taskType, err)
	}
	return queue.Task{Type: taskType, Payload: b}, nil
}

// Types lists every event type this service consumes.
var Types = []string{
	TypeEnrollmentCreated,
	TypeEnrollmentStatusChanged,
	TypeTutorAssignmentChanged,
	TypeIdentityChanged,
	TypeParentLinkChanged,
}

// Publish enqueues an event on the event queue. Producers retry for as long
// as asynq's default policy allows; handlers are idempotent.
func Publish(ctx context.Context, client queue.Client, taskType string, payload any) (string, error) {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return "", err
	}
	id, err := client.Enqueue(ctx, task, queue.EnqueueOption{Queue: Queue})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", taskType, err)
	}
	return id, nil
}

// ConsumerQueues is the queue set an event consumer polls: the event queue
// alone. A notification queue sharing its name is refused, since the
// consumer would pull those tasks without a handler and burn their retries.
func ConsumerQueues(notifyQueue string) (map[string]int, error) {
	if notifyQueue == Queue {
		return nil, fmt.Errorf("notification queue %q must differ from the event queue", notifyQueue)
	}
	return map[string]int{Queue: 1}, nil
}

// Register binds every event type to h on srv.
func Register(srv queue.Server, h Handler) {
	for _, t := range Types {
		srv.Register(t, func(ctx context.Context, task queue.Task) error {
			return Dispatch(ctx, h, task)
		})
	}
}

// Dispatch decodes task and calls the matching Handler method. Undecodable
// payloads are not retried.
func Dispatch(ctx context.Context, h Handler, task queue.Task) error {
	switch task.Type {
	case TypeEnrollmentCreated:
		var ev EnrollmentCreated
		if err := decode(task, &ev); err != nil {
			return err
		}
		return h.EnrollmentCreated(ctx, ev)
	case TypeEnrollmentStatusChanged:
		var ev EnrollmentStatusChanged
		if err := decode(task, &ev); err != nil {
			return err
		}
		return h.EnrollmentStatusChanged(ctx, ev)
	case TypeTutorAssignmentChanged:
		var ev TutorAssignmentChanged
		if err := decode(task, &ev); err != nil {
			return err
		}
		return h.TutorAssignmentChanged(ctx, ev)
	case TypeIdentityChanged:
		var ev IdentityChanged
		if err := decode(task, &ev); err != nil {
			return err
		}
		return h.IdentityChanged(ctx, ev)
	case TypeParentLinkChanged:
		var ev ParentLinkChanged
		if err := decode(task, &ev); err != nil {
			return err
		}
		return h.ParentLinkChanged(ctx, ev)
	}
	return fmt.Errorf("unknown event type %q: %w", task.Type, queue.ErrSkipRetry)
}

func decode(task queue.Task, v any) error {
	if err := json.Unmarshal(task.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", task.Type, err, queue.ErrSkipRetry)
	}
	return nil
}
