package ws

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"forumchat/internal/domain"
	"forumchat/internal/service"
)

// Close codes sent when the server ends a session.
const (
	CloseUnauthenticated = 4401
	CloseForbidden       = 4403
	CloseNotFound        = 4404
)

// Inbound event types.
const (
	inMessage    = "message"
	inEdit       = "edit"
	inDelete     = "delete"
	inTyping     = "typing"
	inTypingStop = "typing_stop"
	inRead       = "read"
)

// Frame is the envelope of every event on the wire, in both directions.
type Frame struct {
	Type   string          `json:"type"`
	RoomID int64           `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func encodeFrame(roomID int64, eventType string, data any) ([]byte, error) {
	return json.Marshal(outFrame{Type: eventType, RoomID: roomID, Data: data})
}

type messageIn struct {
	Content   string             `json:"content"`
	Kind      domain.MessageKind `json:"kind"`
	ThreadID  *int64             `json:"thread_id"`
	ReplyToID *int64             `json:"reply_to_id"`
}

type editIn struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type deleteIn struct {
	MessageID int64 `json:"message_id"`
}

type readIn struct {
	MessageID *int64 `json:"message_id"`
}

type typingOut struct {
	IdentityID  int64  `json:"identity_id"`
	DisplayName string `json:"display_name"`
}

type presenceOut struct {
	IdentityID  int64  `json:"identity_id"`
	DisplayName string `json:"display_name"`
}

type historyOut struct {
	Messages []*service.MessageView `json:"messages"`
	Present  []int64                `json:"present"`
}

type errorOut struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errMalformed marks frames that could not be understood at all.
var errMalformed = errors.New("malformed frame")

func errorFrame(err error) errorOut {
	switch {
	case errors.Is(err, errMalformed):
		return errorOut{Code: "malformed", Message: err.Error()}
	case errors.Is(err, domain.ErrValidation):
		return errorOut{Code: "validation", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return errorOut{Code: "not_found", Message: "not found"}
	case errors.Is(err, domain.ErrForbidden):
		return errorOut{Code: "forbidden", Message: err.Error()}
	}
	return errorOut{Code: "internal", Message: "internal error"}
}

// closeCode maps a failed permission recheck to the code the session ends with.
func closeCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return CloseUnauthenticated
	case errors.Is(err, domain.ErrNotFound):
		return CloseNotFound
	case errors.Is(err, domain.ErrForbidden):
		return CloseForbidden
	}
	return websocket.CloseInternalServerErr
}
