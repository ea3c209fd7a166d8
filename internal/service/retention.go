package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"forumchat/internal/domain"
)

// RetentionSweeper hard-deletes messages older than their room's
// auto-delete window.
type RetentionSweeper struct {
	rooms    domain.RoomRepository
	messages domain.MessageRepository
	interval time.Duration
	now      func() time.Time
}

func NewRetentionSweeper(rooms domain.RoomRepository, messages domain.MessageRepository, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{rooms: rooms, messages: messages, interval: interval, now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			log.Printf("retention: sweep: %v", err)
		} else if n > 0 {
			log.Printf("retention: pruned %d messages", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep prunes every room with a retention window and returns the number
// of deleted messages. A failing room does not stop the others.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	rooms, err := s.rooms.ListWithRetention(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms with retention: %w", err)
	}

	var total int64
	var firstErr error
	for _, r := range rooms {
		if r.AutoDeleteAfterDays <= 0 {
			continue
		}
		cutoff := s.now().UTC().AddDate(0, 0, -r.AutoDeleteAfterDays)
		n, err := s.messages.PruneOlderThan(ctx, r.ID, cutoff)
		if err != nil {
			log.Printf("retention: prune room %d: %v", r.ID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("prune room %d: %w", r.ID, err)
			}
			continue
		}
		total += n
	}
	return total, firstErr
}
