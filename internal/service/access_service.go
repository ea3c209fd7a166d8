package service

import (
	"context"
	"errors"
	"fmt"

	"forumchat/internal/access"
	"forumchat/internal/domain"
)

// AccessService loads the facts access.Authorize needs and applies its
// decisions, including a parent's lazy join.
type AccessService struct {
	directory    domain.DirectoryRepository
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
}

func NewAccessService(
	directory domain.DirectoryRepository,
	rooms domain.RoomRepository,
	participants domain.ParticipantRepository,
) *AccessService {
	return &AccessService{directory: directory, rooms: rooms, participants: participants}
}

// Authorize loads the room and checks action on it. Allowed lazy joins are
// persisted before returning.
func (s *AccessService) Authorize(ctx context.Context, identity *domain.Identity, roomID int64, action access.Action) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.AuthorizeRoom(ctx, identity, room, action); err != nil {
		return nil, err
	}
	return room, nil
}

// AuthorizeRoom is Authorize for an already loaded room.
func (s *AccessService) AuthorizeRoom(ctx context.Context, identity *domain.Identity, room *domain.Room, action access.Action) error {
	d, err := s.decide(ctx, identity, room, action)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%s room %d: %w", action, room.ID, d.Err())
	}
	if d.LazyJoin {
		if _, err := s.participants.Add(ctx, room.ID, identity.ID, false); err != nil {
			return fmt.Errorf("lazy join room %d: %w", room.ID, err)
		}
	}
	return nil
}

// Allowed reports the decision without side effects.
func (s *AccessService) Allowed(ctx context.Context, identity *domain.Identity, room *domain.Room, action access.Action) (bool, error) {
	d, err := s.decide(ctx, identity, room, action)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (s *AccessService) decide(ctx context.Context, identity *domain.Identity, room *domain.Room, action access.Action) (access.Decision, error) {
	if identity == nil || !identity.IsActive {
		return access.Authorize(identity, access.Facts{Room: room}, action), nil
	}
	facts, err := s.facts(ctx, identity, room)
	if err != nil {
		return access.Decision{}, err
	}
	return access.Authorize(identity, facts, action), nil
}

func (s *AccessService) facts(ctx context.Context, identity *domain.Identity, room *domain.Room) (access.Facts, error) {
	f := access.Facts{Room: room}

	p, err := s.participants.Get(ctx, room.ID, identity.ID)
	switch {
	case err == nil:
		f.Participant = p
	case !errors.Is(err, domain.ErrNotFound):
		return f, fmt.Errorf("load participant: %w", err)
	}

	if room.EnrollmentID != nil {
		enr, err := s.directory.GetEnrollment(ctx, *room.EnrollmentID)
		switch {
		case err == nil:
			f.Enrollment = enr
			student, err := s.directory.GetIdentity(ctx, enr.StudentID)
			switch {
			case err == nil:
				f.AssignedTutorID = student.TutorID
			case !errors.Is(err, domain.ErrNotFound):
				return f, fmt.Errorf("load student: %w", err)
			}
		case !errors.Is(err, domain.ErrNotFound):
			return f, fmt.Errorf("load enrollment: %w", err)
		}
	}

	if identity.Role == domain.RoleParent && room.Kind.IsForum() {
		ok, err := s.participants.ChildParticipates(ctx, room.ID, identity.ID)
		if err != nil {
			return f, fmt.Errorf("load child participation: %w", err)
		}
		f.ChildParticipates = ok
	}
	return f, nil
}
