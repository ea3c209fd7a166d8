// Package access decides what an identity may do in a room. Every function
// here is pure: callers load the facts, this package only judges them.
package access

import (
	"forumchat/internal/domain"
)

// Action is something an identity attempts in a room.
type Action int

const (
	// Read covers joining the room, history and listing.
	Read Action = iota
	// Write covers sending messages, typing and read acknowledgements.
	Write
	// Moderate covers pinning and locking threads.
	Moderate
	// Lock covers locking and unlocking the room itself.
	Lock
)

func (a Action) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	case Moderate:
		return "moderate"
	case Lock:
		return "lock"
	}
	return "unknown"
}

// Facts is everything the decision depends on. Participant is the acting
// identity's own row, nil when absent.
type Facts struct {
	Room        *domain.Room
	Participant *domain.Participant
	// Enrollment is the room's originating enrollment, nil for rooms without one.
	Enrollment *domain.Enrollment
	// AssignedTutorID is the current tutor of the enrollment's student.
	AssignedTutorID *int64
	// ChildParticipates is true when one of the identity's linked children
	// is a participant of the room. Only consulted for parents.
	ChildParticipates bool
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	// Reason is a domain error explaining a denial.
	Reason error
	// LazyJoin asks the caller to add the identity as a participant.
	LazyJoin bool
}

// Err returns nil when allowed, the denial reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == nil {
		return domain.ErrForbidden
	}
	return d.Reason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason error) Decision { return Decision{Reason: reason} }

// Authorize decides whether identity may perform action given facts.
func Authorize(identity *domain.Identity, f Facts, action Action) Decision {
	if identity == nil || !identity.IsActive {
		return deny(domain.ErrUnauthenticated)
	}
	if f.Room == nil {
		return deny(domain.ErrNotFound)
	}

	read := canRead(identity, f)
	switch action {
	case Read:
		return read
	case Write:
		return canWrite(identity, f, read)
	case Moderate:
		return canModerate(identity, f, read)
	case Lock:
		return canLock(identity, f, read)
	}
	return deny(domain.ErrForbidden)
}

func canRead(identity *domain.Identity, f Facts) Decision {
	room := f.Room
	isParticipant := f.Participant != nil

	if !room.Kind.IsForum() {
		// Direct and group rooms: membership only, for every role.
		if isParticipant {
			return allow()
		}
		return deny(domain.ErrNotFound)
	}

	if identity.Role == domain.RoleAdmin {
		return allow()
	}

	// A deactivated enrollment revokes every relationship-derived grant.
	if f.Enrollment != nil && !f.Enrollment.IsActive {
		return deny(domain.ErrForbidden)
	}

	switch identity.Role {
	case domain.RoleTeacher:
		if room.Kind == domain.RoomTutorForum {
			return deny(domain.ErrForbidden)
		}
		if room.Kind == domain.RoomSubjectForum {
			if f.Enrollment != nil && f.Enrollment.TeacherID == identity.ID {
				return allow()
			}
			return deny(domain.ErrForbidden)
		}
	case domain.RoleTutor:
		if room.Kind == domain.RoomTutorForum {
			if f.AssignedTutorID != nil && *f.AssignedTutorID == identity.ID {
				return allow()
			}
			return deny(domain.ErrForbidden)
		}
	case domain.RoleParent:
		if f.ChildParticipates {
			if isParticipant {
				return allow()
			}
			return Decision{Allowed: true, LazyJoin: true}
		}
		return deny(domain.ErrForbidden)
	}

	if isParticipant {
		return allow()
	}
	return deny(domain.ErrForbidden)
}

func canWrite(identity *domain.Identity, f Facts, read Decision) Decision {
	if !read.Allowed {
		return read
	}
	// Read access alone never lets anyone post; the sender must hold a row
	// (or be about to get one through a parent's lazy join).
	if f.Participant == nil && !read.LazyJoin {
		return deny(domain.ErrNotParticipant)
	}
	if !f.Room.IsActive {
		return deny(domain.ErrRoomLocked)
	}
	return read
}

func privileged(role domain.Role) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleTeacher, domain.RoleTutor:
		return true
	}
	return false
}

func canModerate(identity *domain.Identity, f Facts, read Decision) Decision {
	if !privileged(identity.Role) {
		return deny(domain.ErrForbidden)
	}
	if read.Allowed {
		return allow()
	}
	if f.Participant != nil && f.Participant.IsModerator {
		return allow()
	}
	return read
}

func canLock(identity *domain.Identity, f Facts, read Decision) Decision {
	if identity.Role == domain.RoleAdmin {
		return allow()
	}
	if !read.Allowed {
		return read
	}
	// Only the creator may lock, and only while holding a moderator role.
	creator := f.Room.CreatedBy != nil && *f.Room.CreatedBy == identity.ID
	if creator && privileged(identity.Role) {
		return allow()
	}
	return deny(domain.ErrForbidden)
}
