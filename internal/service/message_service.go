package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"forumchat/internal/access"
	"forumchat/internal/domain"
	"forumchat/internal/notify"
)

const (
	defaultPageSize = 50
	notifyTimeout   = 10 * time.Second
)

type MessageService struct {
	directory    domain.DirectoryRepository
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	threads      domain.ThreadRepository
	access       *AccessService
	broadcaster  Broadcaster
	sink         notify.Sink

	MaxMessageLength int
	MaxPageSize      int
}

func NewMessageService(
	directory domain.DirectoryRepository,
	rooms domain.RoomRepository,
	participants domain.ParticipantRepository,
	messages domain.MessageRepository,
	threads domain.ThreadRepository,
	accessSvc *AccessService,
	broadcaster Broadcaster,
	sink notify.Sink,
	maxMessageLength, maxPageSize int,
) *MessageService {
	return &MessageService{
		directory:        directory,
		rooms:            rooms,
		participants:     participants,
		messages:         messages,
		threads:          threads,
		access:           accessSvc,
		broadcaster:      broadcaster,
		sink:             sink,
		MaxMessageLength: maxMessageLength,
		MaxPageSize:      maxPageSize,
	}
}

type MessageCreateInput struct {
	RoomID    int64
	Content   string
	Kind      domain.MessageKind
	ThreadID  *int64
	ReplyToID *int64
}

func (s *MessageService) content(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", domain.Invalid("message content cannot be empty")
	}
	if s.MaxMessageLength > 0 && len([]rune(content)) > s.MaxMessageLength {
		return "", domain.Invalid(fmt.Sprintf("message content exceeds %d characters", s.MaxMessageLength))
	}
	return content, nil
}

// Send persists a message and then fans it out to the room. The sender's own
// connections receive the same chat_message event as acknowledgement.
func (s *MessageService) Send(ctx context.Context, identity *domain.Identity, in MessageCreateInput) (*MessageView, error) {
	content, err := s.content(in.Content)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.MessageText
	}
	if !kind.Valid() || kind == domain.MessageSystem {
		return nil, domain.Invalid(fmt.Sprintf("unsupported message kind %q", kind))
	}

	room, err := s.access.Authorize(ctx, identity, in.RoomID, access.Write)
	if err != nil {
		return nil, err
	}

	if in.ThreadID != nil {
		thread, err := s.threads.GetByID(ctx, *in.ThreadID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && thread.RoomID != room.ID) {
			return nil, domain.Invalid("thread does not belong to this room")
		}
		if err != nil {
			return nil, fmt.Errorf("get thread: %w", err)
		}
		if thread.IsLocked {
			return nil, domain.ErrThreadLocked
		}
	}
	if in.ReplyToID != nil {
		parent, err := s.messages.GetByID(ctx, *in.ReplyToID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && (parent.RoomID != room.ID || parent.IsDeleted)) {
			return nil, domain.Invalid("reply target does not exist in this room")
		}
		if err != nil {
			return nil, fmt.Errorf("get reply target: %w", err)
		}
	}

	sender := identity.ID
	msg := &domain.Message{
		RoomID:    room.ID,
		SenderID:  &sender,
		Content:   content,
		Kind:      kind,
		ThreadID:  in.ThreadID,
		ReplyToID: in.ReplyToID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	if err := s.rooms.Touch(ctx, room.ID); err != nil {
		log.Printf("service: touch room %d: %v", room.ID, err)
	}
	if in.ThreadID != nil {
		if err := s.threads.Touch(ctx, *in.ThreadID); err != nil {
			log.Printf("service: touch thread %d: %v", *in.ThreadID, err)
		}
	}

	view := newMessageView(msg, identity.DisplayName)
	s.broadcaster.Publish(room.ID, EventChatMessage, view)

	if room.Kind.IsForum() {
		go s.notify(context.WithoutCancel(ctx), room, view)
	}
	return view, nil
}

// notify hands the message to the sink for everyone in the room but the
// sender. Failures are logged only.
func (s *MessageService) notify(ctx context.Context, room *domain.Room, view *MessageView) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	ids, err := s.participants.ListIDs(ctx, room.ID)
	if err != nil {
		log.Printf("service: notify message %d: list participants: %v", view.ID, err)
		return
	}
	recipients := slices.DeleteFunc(ids, func(id int64) bool {
		return view.SenderID != nil && id == *view.SenderID
	})

	n := notify.Notification{
		RoomID:       room.ID,
		RoomName:     room.Name,
		MessageID:    view.ID,
		SenderName:   view.SenderName,
		Preview:      notify.Preview(view.Content),
		RecipientIDs: recipients,
	}
	if view.SenderID != nil {
		n.SenderID = *view.SenderID
	}
	if err := s.sink.Notify(ctx, n); err != nil {
		log.Printf("service: notify message %d: %v", view.ID, err)
	}
}

// Edit replaces the content of the caller's own message.
func (s *MessageService) Edit(ctx context.Context, identity *domain.Identity, messageID int64, newContent string) (*MessageView, error) {
	content, err := s.content(newContent)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("message %d: %w", messageID, domain.ErrNotFound)
	}
	if _, err := s.access.Authorize(ctx, identity, msg.RoomID, access.Write); err != nil {
		return nil, err
	}
	if msg.SenderID == nil || *msg.SenderID != identity.ID {
		return nil, fmt.Errorf("%w: only the sender can edit a message", domain.ErrForbidden)
	}

	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	msg, err = s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}

	view := newMessageView(msg, identity.DisplayName)
	s.broadcaster.Publish(msg.RoomID, EventMessageEdited, view)
	return view, nil
}

// MessageDeleted is the payload of a message_deleted event.
type MessageDeleted struct {
	ID        int64 `json:"id"`
	RoomID    int64 `json:"room_id"`
	DeletedBy int64 `json:"deleted_by"`
	Hard      bool  `json:"hard"`
}

// Delete soft-deletes a message. The sender may always delete their own
// message; anyone else needs moderation rights in the room. Deleting an
// already deleted message changes nothing.
func (s *MessageService) Delete(ctx context.Context, identity *domain.Identity, messageID int64) (*MessageView, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	room, err := s.access.Authorize(ctx, identity, msg.RoomID, access.Read)
	if err != nil {
		return nil, err
	}
	own := msg.SenderID != nil && *msg.SenderID == identity.ID
	if !own {
		if err := s.access.AuthorizeRoom(ctx, identity, room, access.Moderate); err != nil {
			return nil, err
		}
	}

	if !msg.IsDeleted {
		deleted, err := s.messages.SoftDelete(ctx, messageID, identity.ID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("soft delete: %w", err)
		}
		if deleted {
			s.broadcaster.Publish(msg.RoomID, EventMessageDeleted, MessageDeleted{
				ID: msg.ID, RoomID: msg.RoomID, DeletedBy: identity.ID,
			})
		}
		if msg, err = s.messages.GetByID(ctx, messageID); err != nil {
			return nil, fmt.Errorf("reload message: %w", err)
		}
	}
	return s.view(ctx, msg), nil
}

// HardDelete removes a message and its receipts for good. Admin only.
func (s *MessageService) HardDelete(ctx context.Context, identity *domain.Identity, messageID int64) error {
	if identity.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: hard delete requires admin", domain.ErrForbidden)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if err := s.messages.HardDelete(ctx, messageID); err != nil {
		return fmt.Errorf("hard delete: %w", err)
	}
	s.broadcaster.Publish(msg.RoomID, EventMessageDeleted, MessageDeleted{
		ID: msg.ID, RoomID: msg.RoomID, DeletedBy: identity.ID, Hard: true,
	})
	return nil
}

// Get returns a single message, soft-deleted ones included with their
// content withheld.
func (s *MessageService) Get(ctx context.Context, identity *domain.Identity, messageID int64) (*MessageView, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if _, err := s.access.Authorize(ctx, identity, msg.RoomID, access.Read); err != nil {
		return nil, err
	}
	return s.view(ctx, msg), nil
}

// History returns a page of live messages in chronological order. offset
// counts back from the newest message.
func (s *MessageService) History(ctx context.Context, identity *domain.Identity, roomID int64, limit, offset int) ([]*MessageView, error) {
	if _, err := s.access.Authorize(ctx, identity, roomID, access.Read); err != nil {
		return nil, err
	}
	return s.Recent(ctx, roomID, limit, offset)
}

// Recent is History without the access check, for callers that already
// authorized the room.
func (s *MessageService) Recent(ctx context.Context, roomID int64, limit, offset int) ([]*MessageView, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if s.MaxPageSize > 0 && limit > s.MaxPageSize {
		limit = s.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.messages.ListForRoom(ctx, roomID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	// Reverse to chronological order (store returns newest first)
	slices.Reverse(msgs)
	return s.views(ctx, msgs), nil
}

// ReadState is the caller's read position after an acknowledgement. It is
// returned to the reader only.
type ReadState struct {
	RoomID      int64      `json:"room_id"`
	IdentityID  int64      `json:"identity_id"`
	MessageID   *int64     `json:"message_id,omitempty"`
	LastReadAt  *time.Time `json:"last_read_at"`
	UnreadCount int        `json:"unread_count"`
}

// ReadEvent is what the room sees of an acknowledgement.
type ReadEvent struct {
	IdentityID int64      `json:"identity_id"`
	MessageID  *int64     `json:"message_id,omitempty"`
	LastReadAt *time.Time `json:"last_read_at"`
}

// MarkRead acknowledges the room up to messageID, or up to its newest
// message when messageID is nil. The marker never moves backwards.
func (s *MessageService) MarkRead(ctx context.Context, identity *domain.Identity, roomID int64, messageID *int64) (*ReadState, error) {
	if _, err := s.access.Authorize(ctx, identity, roomID, access.Read); err != nil {
		return nil, err
	}
	if _, err := s.participants.Get(ctx, roomID, identity.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotParticipant
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}

	if messageID == nil {
		// Message timestamps come from the store's clock, so "everything"
		// is measured there too.
		if err := s.participants.AdvanceReadMarkerToLatest(ctx, roomID, identity.ID); err != nil {
			return nil, fmt.Errorf("advance read marker: %w", err)
		}
	} else {
		msg, err := s.messages.GetByID(ctx, *messageID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && msg.RoomID != roomID) {
			return nil, domain.Invalid("message does not belong to this room")
		}
		if err != nil {
			return nil, fmt.Errorf("get message: %w", err)
		}
		if err := s.messages.AddReceipt(ctx, msg.ID, identity.ID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("add receipt: %w", err)
		}
		if err := s.participants.AdvanceReadMarker(ctx, roomID, identity.ID, msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("advance read marker: %w", err)
		}
	}

	p, err := s.participants.Get(ctx, roomID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("reload participant: %w", err)
	}
	unread, err := s.participants.UnreadCount(ctx, roomID, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("unread count: %w", err)
	}

	s.broadcaster.Publish(roomID, EventRead, ReadEvent{IdentityID: identity.ID, MessageID: messageID, LastReadAt: p.LastReadAt})
	return &ReadState{
		RoomID:      roomID,
		IdentityID:  identity.ID,
		MessageID:   messageID,
		LastReadAt:  p.LastReadAt,
		UnreadCount: unread,
	}, nil
}

// Receipts lists who has acknowledged a message.
func (s *MessageService) Receipts(ctx context.Context, identity *domain.Identity, messageID int64) ([]*domain.ReadReceipt, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if _, err := s.access.Authorize(ctx, identity, msg.RoomID, access.Read); err != nil {
		return nil, err
	}
	receipts, err := s.messages.ListReceipts(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return receipts, nil
}

// MessageView is the client-facing shape of a message, on HTTP and on the
// wire alike.
type MessageView struct {
	ID         int64              `json:"id"`
	RoomID     int64              `json:"room_id"`
	SenderID   *int64             `json:"sender_id"`
	SenderName string             `json:"sender_name"`
	Content    string             `json:"content"`
	Kind       domain.MessageKind `json:"kind"`
	ThreadID   *int64             `json:"thread_id,omitempty"`
	ReplyToID  *int64             `json:"reply_to_id,omitempty"`
	IsEdited   bool               `json:"is_edited"`
	IsDeleted  bool               `json:"is_deleted"`
	DeletedAt  *time.Time         `json:"deleted_at,omitempty"`
	DeletedBy  *int64             `json:"deleted_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newMessageView(m *domain.Message, senderName string) *MessageView {
	v := &MessageView{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: senderName,
		Content:    m.Content,
		Kind:       m.Kind,
		ThreadID:   m.ThreadID,
		ReplyToID:  m.ReplyToID,
		IsEdited:   m.IsEdited,
		IsDeleted:  m.IsDeleted,
		DeletedAt:  m.DeletedAt,
		DeletedBy:  m.DeletedBy,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.IsDeleted {
		v.Content = ""
	}
	return v
}

func (s *MessageService) view(ctx context.Context, m *domain.Message) *MessageView {
	return s.views(ctx, []*domain.Message{m})[0]
}

// views resolves each distinct sender once.
func (s *MessageService) views(ctx context.Context, msgs []*domain.Message) []*MessageView {
	names := make(map[int64]string)
	res := make([]*MessageView, 0, len(msgs))
	for _, m := range msgs {
		var name string
		if m.SenderID != nil {
			n, ok := names[*m.SenderID]
			if !ok {
				if ident, err := s.directory.GetIdentity(ctx, *m.SenderID); err == nil {
					n = ident.DisplayName
				}
				names[*m.SenderID] = n
			}
			name = n
		}
		res = append(res, newMessageView(m, name))
	}
	return res
}
