package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"forumchat/internal/access"
	"forumchat/internal/domain"
	"forumchat/internal/service"
)

// Options tunes the gateway.
type Options struct {
	HistoryLimit    int
	SendQueue       int
	MaxMalformed    int
	RecheckInterval time.Duration
	AllowedOrigins  []string
}

// Handler serves /ws/rooms/{roomID}: one websocket session per room.
type Handler struct {
	hub        *Hub
	identities *service.IdentityService
	access     *service.AccessService
	messages   *service.MessageService
	opts       Options

	checkOrigin func(*http.Request) bool
	upgrader    websocket.Upgrader
}

func NewHandler(
	hub *Hub,
	identities *service.IdentityService,
	accessSvc *service.AccessService,
	messages *service.MessageService,
	opts Options,
) *Handler {
	checkOrigin := makeCheckOrigin(opts.AllowedOrigins)
	return &Handler{
		hub:         hub,
		identities:  identities,
		access:      accessSvc,
		messages:    messages,
		opts:        opts,
		checkOrigin: checkOrigin,
		upgrader: websocket.Upgrader{
			CheckOrigin:  checkOrigin,
			Subprotocols: []string{"bearer"},
		},
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed browser origins and requests without an
// Origin header (non-browser clients). "*" accepts everything.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if _, ok := allowed["*"]; ok {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

// tokenFromRequest reads the bearer credential from the token query
// parameter, the Authorization header or the "bearer, <token>" subprotocol.
func tokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ""
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// ServeHTTP authenticates and authorizes before upgrading, so a refused
// session never joins the room.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	roomID, err := strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	identity, err := h.identities.Authenticate(ctx, tokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := h.access.Authorize(ctx, identity, roomID, access.Read); err != nil {
		status := authStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("ws: authorize room %d for %d: %v", roomID, identity.ID, err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// CloseWith owns closing conn so the close frame is written first.
	c := newClient(conn, identity, roomID, h.opts.SendQueue)
	h.hub.Join(c)
	defer func() {
		h.hub.Leave(c)
		c.CloseWith(websocket.CloseNormalClosure, "")
		if !h.hub.Connected(roomID, identity.ID) {
			h.hub.Publish(roomID, service.EventUserLeft, presenceOut{IdentityID: identity.ID, DisplayName: c.Identity().DisplayName})
		}
	}()

	// History goes out before the writer starts so it is always the first
	// frame; events published since the join wait in the queue behind it.
	if err := h.sendHistory(ctx, c); err != nil {
		log.Printf("ws: history for room %d: %v", roomID, err)
		return
	}
	go c.writePump()
	go h.recheckLoop(ctx, c)
	h.hub.publish(roomID, service.EventUserJoined, presenceOut{IdentityID: identity.ID, DisplayName: identity.DisplayName}, c.ID)

	h.readLoop(ctx, c)
}

func (h *Handler) sendHistory(ctx context.Context, c *Client) error {
	msgs, err := h.messages.Recent(ctx, c.RoomID, h.opts.HistoryLimit, 0)
	if err != nil {
		return err
	}
	payload, err := encodeFrame(c.RoomID, service.EventRoomHistory, historyOut{
		Messages: msgs,
		Present:  h.hub.Presence(c.RoomID),
	})
	if err != nil {
		return err
	}
	return c.writeNow(payload)
}

func (h *Handler) readLoop(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	malformed := 0
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.Closed() {
				log.Printf("ws: read from %s: %v", c.ID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// Every event is re-authorized at receipt; a lost permission ends
		// the session rather than failing silently.
		if err := h.recheck(ctx, c); err != nil {
			c.CloseWith(closeCode(err), "access revoked")
			return
		}

		err = h.dispatch(ctx, c, raw)
		if err == nil {
			continue
		}
		if errors.Is(err, errMalformed) {
			malformed++
			if h.opts.MaxMalformed > 0 && malformed > h.opts.MaxMalformed {
				c.CloseWith(websocket.ClosePolicyViolation, "too many malformed frames")
				return
			}
		} else if out := errorFrame(err); out.Code == "internal" {
			log.Printf("ws: room %d event from %d: %v", c.RoomID, c.Identity().ID, err)
		}
		h.reply(c, service.EventError, errorFrame(err))
	}
}

func (h *Handler) recheckLoop(ctx context.Context, c *Client) {
	if h.opts.RecheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.opts.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := h.recheck(ctx, c); err != nil {
				log.Printf("ws: closing %s in room %d: %v", c.ID, c.RoomID, err)
				c.CloseWith(closeCode(err), "access revoked")
				return
			}
		}
	}
}

// recheck reloads the identity and its read access to the room.
func (h *Handler) recheck(ctx context.Context, c *Client) error {
	identity, err := h.identities.Lookup(ctx, c.Identity().ID)
	if err != nil {
		return err
	}
	c.setIdentity(identity)
	_, err = h.access.Authorize(ctx, identity, c.RoomID, access.Read)
	return err
}

func (h *Handler) reply(c *Client, eventType string, data any) {
	payload, err := encodeFrame(c.RoomID, eventType, data)
	if err != nil {
		log.Printf("ws: encode %s: %v", eventType, err)
		return
	}
	c.Send(payload)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", errMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// dispatch handles one inbound frame. Results reach the room through the
// services' broadcasts; only failures are answered directly.
func (h *Handler) dispatch(ctx context.Context, c *Client, raw []byte) error {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if f.RoomID != 0 && f.RoomID != c.RoomID {
		return domain.Invalid("frame addressed to another room")
	}
	identity := c.Identity()

	switch f.Type {
	case inMessage:
		var in messageIn
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		_, err := h.messages.Send(ctx, identity, service.MessageCreateInput{
			RoomID:    c.RoomID,
			Content:   in.Content,
			Kind:      in.Kind,
			ThreadID:  in.ThreadID,
			ReplyToID: in.ReplyToID,
		})
		return err

	case inEdit:
		var in editIn
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := h.inRoom(ctx, identity, c.RoomID, in.MessageID); err != nil {
			return err
		}
		_, err := h.messages.Edit(ctx, identity, in.MessageID, in.Content)
		return err

	case inDelete:
		var in deleteIn
		if err := decode(f.Data, &in); err != nil {
			return err
		}
		if err := h.inRoom(ctx, identity, c.RoomID, in.MessageID); err != nil {
			return err
		}
		_, err := h.messages.Delete(ctx, identity, in.MessageID)
		return err

	case inTyping, inTypingStop:
		if _, err := h.access.Authorize(ctx, identity, c.RoomID, access.Write); err != nil {
			return err
		}
		event := service.EventTyping
		if f.Type == inTypingStop {
			event = service.EventTypingStop
		}
		h.hub.publish(c.RoomID, event, typingOut{IdentityID: identity.ID, DisplayName: identity.DisplayName}, c.ID)
		return nil

	case inRead:
		var in readIn
		if len(f.Data) > 0 {
			if err := decode(f.Data, &in); err != nil {
				return err
			}
		}
		state, err := h.messages.MarkRead(ctx, identity, c.RoomID, in.MessageID)
		if err != nil {
			return err
		}
		// The unread count is the reader's own business.
		h.reply(c, service.EventReadState, state)
		return nil
	}
	return fmt.Errorf("%w: unknown event type %q", errMalformed, f.Type)
}

// inRoom keeps edits and deletes scoped to the session's room.
func (h *Handler) inRoom(ctx context.Context, identity *domain.Identity, roomID, messageID int64) error {
	if messageID <= 0 {
		return fmt.Errorf("%w: message_id is required", errMalformed)
	}
	m, err := h.messages.Get(ctx, identity, messageID)
	if err != nil {
		return err
	}
	if m.RoomID != roomID {
		return domain.Invalid("message belongs to another room")
	}
	return nil
}
