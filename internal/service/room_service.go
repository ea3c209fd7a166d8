package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"forumchat/internal/access"
	"forumchat/internal/cache"
	"forumchat/internal/domain"
)

const maxRoomNameLength = 200

type RoomService struct {
	directory    domain.DirectoryRepository
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	access       *AccessService
	perms        *cache.Permissions
	broadcaster  Broadcaster
}

// NewRoomService builds the service. perms may be nil.
func NewRoomService(
	directory domain.DirectoryRepository,
	rooms domain.RoomRepository,
	participants domain.ParticipantRepository,
	accessSvc *AccessService,
	perms *cache.Permissions,
	broadcaster Broadcaster,
) *RoomService {
	return &RoomService{
		directory:    directory,
		rooms:        rooms,
		participants: participants,
		access:       accessSvc,
		perms:        perms,
		broadcaster:  broadcaster,
	}
}

// ListRooms returns every room the identity participates in, with unread badges.
func (s *RoomService) ListRooms(ctx context.Context, identity *domain.Identity) ([]*domain.RoomSummary, error) {
	rooms, err := s.rooms.ListForIdentity(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// ListForums returns the forum rooms the identity may read. Admins see all of
// them; everyone else gets the candidates that pass the access check.
func (s *RoomService) ListForums(ctx context.Context, identity *domain.Identity) ([]*domain.Room, error) {
	if identity.Role == domain.RoleAdmin {
		rooms, err := s.rooms.ListForums(ctx)
		if err != nil {
			return nil, fmt.Errorf("list forums: %w", err)
		}
		return rooms, nil
	}

	candidates, err := s.rooms.ListForumCandidates(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("list forum candidates: %w", err)
	}
	visible := make([]*domain.Room, 0, len(candidates))
	for _, r := range candidates {
		ok, err := s.access.Allowed(ctx, identity, r, access.Read)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// RoomDetail is a room with its participant set, as seen by one identity.
type RoomDetail struct {
	*domain.Room
	ParticipantIDs []int64 `json:"participant_ids"`
	UnreadCount    int     `json:"unread_count"`
}

func (s *RoomService) GetRoom(ctx context.Context, identity *domain.Identity, roomID int64) (*RoomDetail, error) {
	room, err := s.access.Authorize(ctx, identity, roomID, access.Read)
	if err != nil {
		return nil, err
	}
	ids, err := s.participants.ListIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	detail := &RoomDetail{Room: room, ParticipantIDs: ids}
	if slices.Contains(ids, identity.ID) {
		n, err := s.participants.UnreadCount(ctx, roomID, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("unread count: %w", err)
		}
		detail.UnreadCount = n
	}
	return detail, nil
}

// CreateDirect returns the direct room between identity and otherID,
// creating it on first use. The two must be related.
func (s *RoomService) CreateDirect(ctx context.Context, identity *domain.Identity, otherID int64) (*domain.Room, error) {
	if otherID == identity.ID {
		return nil, domain.Invalid("cannot open a direct room with yourself")
	}
	other, err := s.directory.GetIdentity(ctx, otherID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !other.IsActive) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}

	ok, err := s.CanConverse(ctx, identity, other)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no relationship with identity %d", domain.ErrForbidden, otherID)
	}

	room, err := s.rooms.GetOrCreateDirect(ctx, identity.ID, other.ID, directName(identity, other))
	if err != nil {
		return nil, fmt.Errorf("get or create direct room: %w", err)
	}
	return room, nil
}

func directName(a, b *domain.Identity) string {
	if a.ID > b.ID {
		a, b = b, a
	}
	return a.DisplayName + " & " + b.DisplayName
}

type GroupCreateInput struct {
	Name           string
	ParticipantIDs []int64
	// AutoDeleteAfterDays enables the retention sweep for the group; 0 keeps
	// messages forever.
	AutoDeleteAfterDays int
}

// maxRetentionDays caps auto_delete_after_days at ten years.
const maxRetentionDays = 3650

func validRetention(days int) error {
	if days < 0 || days > maxRetentionDays {
		return domain.Invalid(fmt.Sprintf("auto_delete_after_days must be between 0 and %d", maxRetentionDays))
	}
	return nil
}

// CreateGroup creates a group room owned by identity. Only admins, teachers
// and tutors create groups, and every member must be related to the creator
// unless the creator is an admin.
func (s *RoomService) CreateGroup(ctx context.Context, identity *domain.Identity, in GroupCreateInput) (*domain.Room, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid("group name is required")
	}
	if len([]rune(name)) > maxRoomNameLength {
		return nil, domain.Invalid(fmt.Sprintf("group name exceeds %d characters", maxRoomNameLength))
	}
	if err := validRetention(in.AutoDeleteAfterDays); err != nil {
		return nil, err
	}
	switch identity.Role {
	case domain.RoleAdmin, domain.RoleTeacher, domain.RoleTutor:
	default:
		return nil, fmt.Errorf("%w: role %s cannot create groups", domain.ErrForbidden, identity.Role)
	}

	ids := []int64{identity.ID}
	for _, id := range in.ParticipantIDs {
		if slices.Contains(ids, id) {
			continue
		}
		other, err := s.directory.GetIdentity(ctx, id)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && !other.IsActive) {
			return nil, domain.Invalid(fmt.Sprintf("unknown identity %d", id))
		}
		if err != nil {
			return nil, fmt.Errorf("get identity: %w", err)
		}
		ok, err := s.CanConverse(ctx, identity, other)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no relationship with identity %d", domain.ErrForbidden, id)
		}
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return nil, domain.Invalid("a group needs at least one other participant")
	}

	creator := identity.ID
	room := &domain.Room{
		Kind:                domain.RoomGroup,
		Name:                name,
		CreatedBy:           &creator,
		IsActive:            true,
		AutoDeleteAfterDays: in.AutoDeleteAfterDays,
	}
	if err := s.rooms.Create(ctx, room, ids); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return room, nil
}

// SetLocked locks or unlocks a room. A locked room keeps serving reads but
// rejects new messages on every surface.
func (s *RoomService) SetLocked(ctx context.Context, identity *domain.Identity, roomID int64, locked bool) (*domain.Room, error) {
	room, err := s.access.Authorize(ctx, identity, roomID, access.Lock)
	if err != nil {
		return nil, err
	}
	if room.IsActive == !locked {
		return room, nil
	}
	if err := s.rooms.SetActive(ctx, roomID, !locked); err != nil {
		return nil, fmt.Errorf("set room active: %w", err)
	}
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reload room: %w", err)
	}
	s.broadcaster.Publish(roomID, EventRoomState, newRoomState(room))
	return room, nil
}

// SetRetention changes how many days the room keeps its messages before the
// retention sweep deletes them. It takes the same permission as locking.
func (s *RoomService) SetRetention(ctx context.Context, identity *domain.Identity, roomID int64, days int) (*domain.Room, error) {
	if err := validRetention(days); err != nil {
		return nil, err
	}
	room, err := s.access.Authorize(ctx, identity, roomID, access.Lock)
	if err != nil {
		return nil, err
	}
	if room.AutoDeleteAfterDays == days {
		return room, nil
	}
	if err := s.rooms.SetRetention(ctx, roomID, days); err != nil {
		return nil, fmt.Errorf("set room retention: %w", err)
	}
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("reload room: %w", err)
	}
	s.broadcaster.Publish(roomID, EventRoomState, newRoomState(room))
	return room, nil
}

// RoomState is the payload of a room_state event.
type RoomState struct {
	RoomID              int64 `json:"room_id"`
	IsActive            bool  `json:"is_active"`
	AutoDeleteAfterDays int   `json:"auto_delete_after_days"`
}

func newRoomState(r *domain.Room) RoomState {
	return RoomState{RoomID: r.ID, IsActive: r.IsActive, AutoDeleteAfterDays: r.AutoDeleteAfterDays}
}

// CanConverse reports whether a and b may open a direct conversation. The
// answer is cached per unordered pair when a cache is configured.
func (s *RoomService) CanConverse(ctx context.Context, a, b *domain.Identity) (bool, error) {
	if a.ID == b.ID || !a.IsActive || !b.IsActive {
		return false, nil
	}
	if a.Role == domain.RoleAdmin || b.Role == domain.RoleAdmin {
		return true, nil
	}
	return s.perms.Check(ctx, a.ID, b.ID, func(ctx context.Context) (bool, error) {
		ok, err := s.related(ctx, a, b)
		if err != nil {
			return false, fmt.Errorf("check relationship: %w", err)
		}
		return ok, nil
	})
}

func (s *RoomService) related(ctx context.Context, a, b *domain.Identity) (bool, error) {
	if a.Role == domain.RoleStudent {
		return s.studentRelated(ctx, a, b)
	}
	if b.Role == domain.RoleStudent {
		return s.studentRelated(ctx, b, a)
	}
	if a.Role == domain.RoleParent {
		return s.parentRelated(ctx, a, b)
	}
	if b.Role == domain.RoleParent {
		return s.parentRelated(ctx, b, a)
	}
	return false, nil
}

// studentRelated covers the student's teachers, tutor and parents.
func (s *RoomService) studentRelated(ctx context.Context, student, other *domain.Identity) (bool, error) {
	switch other.Role {
	case domain.RoleTeacher:
		return s.teaches(ctx, student.ID, other.ID)
	case domain.RoleTutor:
		return student.TutorID != nil && *student.TutorID == other.ID, nil
	case domain.RoleParent:
		children, err := s.directory.ChildrenOf(ctx, other.ID)
		if err != nil {
			return false, err
		}
		return slices.Contains(children, student.ID), nil
	}
	return false, nil
}

// parentRelated covers the teachers and tutors of any linked child.
func (s *RoomService) parentRelated(ctx context.Context, parent, other *domain.Identity) (bool, error) {
	if other.Role != domain.RoleTeacher && other.Role != domain.RoleTutor {
		return false, nil
	}
	children, err := s.directory.ChildrenOf(ctx, parent.ID)
	if err != nil {
		return false, err
	}
	for _, childID := range children {
		child, err := s.directory.GetIdentity(ctx, childID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		ok, err := s.studentRelated(ctx, child, other)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *RoomService) teaches(ctx context.Context, studentID, teacherID int64) (bool, error) {
	enrollments, err := s.directory.ActiveEnrollmentsForStudent(ctx, studentID)
	if err != nil {
		return false, err
	}
	for _, e := range enrollments {
		if e.TeacherID == teacherID {
			return true, nil
		}
	}
	return false, nil
}
