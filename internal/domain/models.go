package domain

import "time"

// Role is the platform role of an identity.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleTutor   Role = "tutor"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleTutor, RoleParent, RoleStudent:
		return true
	}
	return false
}

// Identity is the directory view of a platform user. Profiles and credentials
// live elsewhere; this is what chat needs to make access decisions.
type Identity struct {
	ID          int64  `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Role        Role   `db:"role" json:"role"`
	IsActive    bool   `db:"is_active" json:"is_active"`
	// TutorID is only meaningful for students.
	TutorID *int64 `db:"tutor_id" json:"tutor_id,omitempty"`
}

// Enrollment links a student to a teacher for one subject.
type Enrollment struct {
	ID        int64  `db:"id" json:"id"`
	StudentID int64  `db:"student_id" json:"student_id"`
	TeacherID int64  `db:"teacher_id" json:"teacher_id"`
	Subject   string `db:"subject" json:"subject"`
	IsActive  bool   `db:"is_active" json:"is_active"`
}

// RoomKind classifies rooms.
type RoomKind string

const (
	RoomDirect       RoomKind = "direct"
	RoomGroup        RoomKind = "group"
	RoomGeneralForum RoomKind = "general_forum"
	RoomSubjectForum RoomKind = "subject_forum"
	RoomTutorForum   RoomKind = "tutor_forum"
	RoomClassForum   RoomKind = "class_forum"
)

// IsForum reports whether the kind is one of the forum kinds.
func (k RoomKind) IsForum() bool {
	switch k {
	case RoomGeneralForum, RoomSubjectForum, RoomTutorForum, RoomClassForum:
		return true
	}
	return false
}

// ForumKinds lists every forum kind.
var ForumKinds = []RoomKind{RoomGeneralForum, RoomSubjectForum, RoomTutorForum, RoomClassForum}

// Room is a named channel of messages. IsActive doubles as the lock state:
// an inactive room still reads but rejects new messages.
type Room struct {
	ID                  int64     `db:"id" json:"id"`
	Kind                RoomKind  `db:"kind" json:"kind"`
	Name                string    `db:"name" json:"name"`
	EnrollmentID        *int64    `db:"enrollment_id" json:"enrollment_id,omitempty"`
	CreatedBy           *int64    `db:"created_by" json:"created_by,omitempty"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	AutoDeleteAfterDays int       `db:"auto_delete_after_days" json:"auto_delete_after_days"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// RoomSummary is a room as seen by one participant, with its unread badge.
type RoomSummary struct {
	Room
	LastReadAt  *time.Time `json:"last_read_at"`
	UnreadCount int        `json:"unread_count"`
}

// Participant is the membership of an identity in a room.
type Participant struct {
	RoomID      int64      `db:"room_id" json:"room_id"`
	IdentityID  int64      `db:"identity_id" json:"identity_id"`
	JoinedAt    time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt  *time.Time `db:"last_read_at" json:"last_read_at"`
	IsMuted     bool       `db:"is_muted" json:"is_muted"`
	IsModerator bool       `db:"is_moderator" json:"is_moderator"`
}

// MessageKind classifies message payloads.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// Message represents a single chat message. Soft-deleted messages stay in
// storage for audit and are filtered out of every list path.
type Message struct {
	ID        int64       `db:"id"`
	RoomID    int64       `db:"room_id"`
	SenderID  *int64      `db:"sender_id"` // nulled when the sender is removed
	Content   string      `db:"content"`
	Kind      MessageKind `db:"kind"`
	IsEdited  bool        `db:"is_edited"`
	IsDeleted bool        `db:"is_deleted"`
	DeletedAt *time.Time  `db:"deleted_at"`
	DeletedBy *int64      `db:"deleted_by"`
	ReplyToID *int64      `db:"reply_to_id"`
	ThreadID  *int64      `db:"thread_id"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

// Thread groups messages inside a room.
type Thread struct {
	ID        int64     `db:"id" json:"id"`
	RoomID    int64     `db:"room_id" json:"room_id"`
	Title     string    `db:"title" json:"title"`
	CreatedBy *int64    `db:"created_by" json:"created_by,omitempty"`
	IsPinned  bool      `db:"is_pinned" json:"is_pinned"`
	IsLocked  bool      `db:"is_locked" json:"is_locked"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ReadReceipt records that an identity has seen a message.
type ReadReceipt struct {
	MessageID  int64     `db:"message_id" json:"message_id"`
	IdentityID int64     `db:"identity_id" json:"identity_id"`
	ReadAt     time.Time `db:"read_at" json:"read_at"`
}

// ForumSpec describes a provisioned forum room and the participants it must have.
type ForumSpec struct {
	EnrollmentID   int64
	Kind           RoomKind
	Name           string
	ParticipantIDs []int64
}
