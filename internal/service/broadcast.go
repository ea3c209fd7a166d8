package service

// Event types fanned out to a room's connected clients.
const (
	EventChatMessage    = "chat_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventTyping         = "typing"
	EventTypingStop     = "typing_stop"
	EventRead           = "read"
	EventReadState      = "read_state"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventRoomHistory    = "room_history"
	EventThreadUpdated  = "thread_updated"
	EventRoomState      = "room_state"
	EventError          = "error"
)

// Broadcaster fans an event out to every connection joined to a room. It
// must not block on slow receivers.
type Broadcaster interface {
	Publish(roomID int64, eventType string, data any)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(int64, string, any) {}
