package service

import (
	"context"
	"fmt"
	"strings"

	"forumchat/internal/access"
	"forumchat/internal/domain"
)

const maxThreadTitleLength = 200

// ThreadService manages threads and their moderation toggles.
type ThreadService struct {
	threads     domain.ThreadRepository
	access      *AccessService
	broadcaster Broadcaster
}

func NewThreadService(threads domain.ThreadRepository, accessSvc *AccessService, broadcaster Broadcaster) *ThreadService {
	return &ThreadService{threads: threads, access: accessSvc, broadcaster: broadcaster}
}

// Create opens a thread; anyone who may post in the room may open one.
func (s *ThreadService) Create(ctx context.Context, identity *domain.Identity, roomID int64, title string) (*domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.Invalid("thread title is required")
	}
	if len([]rune(title)) > maxThreadTitleLength {
		return nil, domain.Invalid(fmt.Sprintf("thread title exceeds %d characters", maxThreadTitleLength))
	}
	if _, err := s.access.Authorize(ctx, identity, roomID, access.Write); err != nil {
		return nil, err
	}

	creator := identity.ID
	t := &domain.Thread{RoomID: roomID, Title: title, CreatedBy: &creator}
	if err := s.threads.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	s.broadcaster.Publish(roomID, EventThreadUpdated, t)
	return t, nil
}

// List returns the room's threads, pinned first.
func (s *ThreadService) List(ctx context.Context, identity *domain.Identity, roomID int64) ([]*domain.Thread, error) {
	if _, err := s.access.Authorize(ctx, identity, roomID, access.Read); err != nil {
		return nil, err
	}
	threads, err := s.threads.ListForRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

func (s *ThreadService) SetPinned(ctx context.Context, identity *domain.Identity, threadID int64, pinned bool) (*domain.Thread, error) {
	return s.moderate(ctx, identity, threadID, func(t *domain.Thread) error {
		if t.IsPinned == pinned {
			return nil
		}
		return s.threads.SetPinned(ctx, t.ID, pinned)
	})
}

// SetLocked locks a thread against new messages; the room stays open.
func (s *ThreadService) SetLocked(ctx context.Context, identity *domain.Identity, threadID int64, locked bool) (*domain.Thread, error) {
	return s.moderate(ctx, identity, threadID, func(t *domain.Thread) error {
		if t.IsLocked == locked {
			return nil
		}
		return s.threads.SetLocked(ctx, t.ID, locked)
	})
}

func (s *ThreadService) moderate(ctx context.Context, identity *domain.Identity, threadID int64, apply func(*domain.Thread) error) (*domain.Thread, error) {
	t, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	if _, err := s.access.Authorize(ctx, identity, t.RoomID, access.Moderate); err != nil {
		return nil, err
	}
	if err := apply(t); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}
	if t, err = s.threads.GetByID(ctx, threadID); err != nil {
		return nil, fmt.Errorf("reload thread: %w", err)
	}
	s.broadcaster.Publish(t.RoomID, EventThreadUpdated, t)
	return t, nil
}
