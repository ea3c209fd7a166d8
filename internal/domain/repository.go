package domain

import (
	"context"
	"time"
)

// DirectoryRepository is the local read model of identities and their
// relationships. It is written from domain events and read by access control.
type DirectoryRepository interface {
	UpsertIdentity(ctx context.Context, id *Identity) error
	// EnsureIdentity inserts the identity only when it is unknown.
	EnsureIdentity(ctx context.Context, id *Identity) error
	DeleteIdentity(ctx context.Context, id int64) error
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	SetTutor(ctx context.Context, studentID int64, tutorID *int64) error
	UpsertEnrollment(ctx context.Context, e *Enrollment) error
	GetEnrollment(ctx context.Context, id int64) (*Enrollment, error)
	ActiveEnrollmentsForStudent(ctx context.Context, studentID int64) ([]*Enrollment, error)
	LinkParent(ctx context.Context, parentID, studentID int64) error
	UnlinkParent(ctx context.Context, parentID, studentID int64) error
	ChildrenOf(ctx context.Context, parentID int64) ([]int64, error)
	ParentsOf(ctx context.Context, studentID int64) ([]int64, error)
}

// RoomRepository defines persistence operations for rooms.
type RoomRepository interface {
	Create(ctx context.Context, r *Room, participantIDs []int64) error
	GetByID(ctx context.Context, id int64) (*Room, error)
	// ProvisionForum get-or-creates the (enrollment, kind) room, refreshes its
	// name and ensures every listed participant exists, in one transaction.
	ProvisionForum(ctx context.Context, spec ForumSpec) (*Room, error)
	FindForEnrollment(ctx context.Context, enrollmentID int64, kind RoomKind) (*Room, error)
	ListForStudent(ctx context.Context, studentID int64) ([]*Room, error)
	// ListForIdentity returns the identity's rooms with unread counts in a single query.
	ListForIdentity(ctx context.Context, identityID int64) ([]*RoomSummary, error)
	ListForums(ctx context.Context) ([]*Room, error)
	// ListForumCandidates returns forum rooms the identity might see through
	// participation, teaching, tutoring or a child's participation.
	ListForumCandidates(ctx context.Context, identityID int64) ([]*Room, error)
	// GetOrCreateDirect returns the single direct room between a and b.
	GetOrCreateDirect(ctx context.Context, a, b int64, name string) (*Room, error)
	ListWithRetention(ctx context.Context) ([]*Room, error)
	SetActive(ctx context.Context, id int64, active bool) error
	// SetRetention sets auto_delete_after_days; 0 keeps messages forever.
	SetRetention(ctx context.Context, id int64, days int) error
	Touch(ctx context.Context, id int64) error
}

// ParticipantRepository defines operations around room participants.
type ParticipantRepository interface {
	Get(ctx context.Context, roomID, identityID int64) (*Participant, error)
	// Add is idempotent; added reports whether a row was created.
	Add(ctx context.Context, roomID, identityID int64, moderator bool) (added bool, err error)
	Remove(ctx context.Context, roomID, identityID int64) error
	ListIDs(ctx context.Context, roomID int64) ([]int64, error)
	ChildParticipates(ctx context.Context, roomID, parentID int64) (bool, error)
	// AdvanceReadMarker moves last_read_at forward to at; it never moves it back.
	AdvanceReadMarker(ctx context.Context, roomID, identityID int64, at time.Time) error
	// AdvanceReadMarkerToLatest moves last_read_at to the room's newest live
	// message, as stamped by the store. Empty rooms leave it unchanged.
	AdvanceReadMarkerToLatest(ctx context.Context, roomID, identityID int64) error
	UnreadCount(ctx context.Context, roomID, identityID int64) (int, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// GetByID returns the message even when soft-deleted.
	GetByID(ctx context.Context, id int64) (*Message, error)
	// ListForRoom returns live messages newest first.
	ListForRoom(ctx context.Context, roomID int64, limit, offset int) ([]*Message, error)
	UpdateContent(ctx context.Context, id int64, content string) error
	// SoftDelete reports false when the message was already deleted.
	SoftDelete(ctx context.Context, id, deletedBy int64, at time.Time) (bool, error)
	HardDelete(ctx context.Context, id int64) error
	PruneOlderThan(ctx context.Context, roomID int64, before time.Time) (int64, error)
	AddReceipt(ctx context.Context, messageID, identityID int64, at time.Time) error
	ListReceipts(ctx context.Context, messageID int64) ([]*ReadReceipt, error)
}

// ThreadRepository defines persistence operations for threads.
type ThreadRepository interface {
	Create(ctx context.Context, t *Thread) error
	GetByID(ctx context.Context, id int64) (*Thread, error)
	// ListForRoom orders pinned threads first, then by most recent update.
	ListForRoom(ctx context.Context, roomID int64) ([]*Thread, error)
	SetPinned(ctx context.Context, id int64, pinned bool) error
	SetLocked(ctx context.Context, id int64, locked bool) error
	Touch(ctx context.Context, id int64) error
}
