package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumchat/internal/domain"
	"forumchat/internal/events"
	"forumchat/internal/notify"
	"forumchat/internal/provisioning"
	"forumchat/internal/security"
	"forumchat/internal/service"
	"forumchat/internal/store/sqlite"
	"forumchat/internal/ws"
)

var (
	sam   = events.Person{ID: 1, DisplayName: "Sam"}
	terry = events.Person{ID: 2, DisplayName: "Terry"}
)

const (
	adminID = 5
	ollyID  = 6
)

type env struct {
	srv       *httptest.Server
	tokens    *security.TokenService
	directory *sqlite.DirectoryRepo
	roomSvc   *service.RoomService
	msgSvc    *service.MessageService
	subject   *domain.Room
}

func newEnv(t *testing.T, opts ws.Options) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	directory := sqlite.NewDirectoryRepo(db)
	rooms := sqlite.NewRoomRepo(db)
	participants := sqlite.NewParticipantRepo(db)
	messages := sqlite.NewMessageRepo(db)
	threads := sqlite.NewThreadRepo(db)

	ctx := context.Background()
	engine := provisioning.NewEngine(directory, rooms, participants, nil)
	require.NoError(t, engine.EnrollmentCreated(ctx, events.EnrollmentCreated{
		EnrollmentID: 100, Student: sam, Teacher: terry, Subject: "Math",
	}))
	require.NoError(t, directory.UpsertIdentity(ctx, &domain.Identity{ID: adminID, DisplayName: "Ada", Role: domain.RoleAdmin, IsActive: true}))
	require.NoError(t, directory.UpsertIdentity(ctx, &domain.Identity{ID: ollyID, DisplayName: "Olly", Role: domain.RoleStudent, IsActive: true}))
	subject, err := rooms.FindForEnrollment(ctx, 100, domain.RoomSubjectForum)
	require.NoError(t, err)

	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	tokens := security.NewTokenService("test-secret", time.Hour)
	identities := service.NewIdentityService(tokens, directory)
	accessSvc := service.NewAccessService(directory, rooms, participants)
	msgSvc := service.NewMessageService(directory, rooms, participants, messages, threads,
		accessSvc, hub, notify.NopSink{}, 5000, 500)
	roomSvc := service.NewRoomService(directory, rooms, participants, accessSvc, nil, hub)

	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = 50
	}
	if opts.SendQueue == 0 {
		opts.SendQueue = 64
	}
	r := chi.NewRouter()
	r.Get("/ws/rooms/{roomID}", ws.NewHandler(hub, identities, accessSvc, msgSvc, opts).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &env{srv: srv, tokens: tokens, directory: directory, roomSvc: roomSvc, msgSvc: msgSvc, subject: subject}
}

func (e *env) url(roomID int64, token string) string {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/rooms/" + strconv.FormatInt(roomID, 10)
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// open connects without consuming the room_history frame.
func (e *env) open(t *testing.T, identityID, roomID int64) *websocket.Conn {
	t.Helper()
	token, err := e.tokens.CreateForIdentity(identityID)
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(e.url(roomID, token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *env) dial(t *testing.T, identityID, roomID int64) *websocket.Conn {
	t.Helper()
	conn := e.open(t, identityID, roomID)
	expect(t, conn, service.EventRoomHistory)
	return conn
}

func (e *env) refuse(t *testing.T, identityID, roomID int64) int {
	t.Helper()
	token := ""
	if identityID != 0 {
		var err error
		token, err = e.tokens.CreateForIdentity(identityID)
		require.NoError(t, err)
	}
	_, resp, err := websocket.DefaultDialer.Dial(e.url(roomID, token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	return resp.StatusCode
}

// expect reads frames until one of type want arrives.
func expect(t *testing.T, conn *websocket.Conn, want string) ws.Frame {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f ws.Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == want {
			return f
		}
	}
}

// expectClose reads until the server closes the session and returns the code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func send(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": frameType, "data": data}))
}

func TestMessageReachesConcurrentMember(t *testing.T) {
	e := newEnv(t, ws.Options{})
	teacher := e.dial(t, terry.ID, e.subject.ID)
	student := e.dial(t, sam.ID, e.subject.ID)

	joined := expect(t, teacher, service.EventUserJoined)
	assert.Contains(t, string(joined.Data), `"identity_id":1`)

	send(t, student, "message", map[string]string{"content": "hi"})

	var ack, got service.MessageView
	require.NoError(t, json.Unmarshal(expect(t, student, service.EventChatMessage).Data, &ack))
	require.NoError(t, json.Unmarshal(expect(t, teacher, service.EventChatMessage).Data, &got))
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, ack.ID, got.ID)
	assert.Equal(t, "Sam", got.SenderName)

	e.dial(t, adminID, e.subject.ID)
	again := e.open(t, terry.ID, e.subject.ID)
	var history struct {
		Messages []service.MessageView `json:"messages"`
		Present  []int64               `json:"present"`
	}
	require.NoError(t, json.Unmarshal(expect(t, again, service.EventRoomHistory).Data, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, ack.ID, history.Messages[0].ID)
	assert.Subset(t, history.Present, []int64{sam.ID, terry.ID, adminID})
}

func TestRefusedBeforeUpgrade(t *testing.T) {
	e := newEnv(t, ws.Options{})
	assert.Equal(t, http.StatusUnauthorized, e.refuse(t, 0, e.subject.ID))
	assert.Equal(t, http.StatusUnauthorized, e.refuse(t, 99, e.subject.ID))
	assert.Equal(t, http.StatusForbidden, e.refuse(t, ollyID, e.subject.ID))
	assert.Equal(t, http.StatusNotFound, e.refuse(t, sam.ID, 999))
}

func TestMalformedFramesKeepSessionUntilThreshold(t *testing.T) {
	e := newEnv(t, ws.Options{MaxMalformed: 2})
	conn := e.dial(t, sam.ID, e.subject.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Contains(t, string(expect(t, conn, service.EventError).Data), `"malformed"`)

	send(t, conn, "message", map[string]string{"content": "   "})
	assert.Contains(t, string(expect(t, conn, service.EventError).Data), `"validation"`)

	send(t, conn, "shout", map[string]string{})
	expect(t, conn, service.EventError)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, websocket.ClosePolicyViolation, expectClose(t, conn))
}

func TestLockedRoomRejectsSendsOnGateway(t *testing.T) {
	e := newEnv(t, ws.Options{})
	conn := e.dial(t, sam.ID, e.subject.ID)

	admin, err := e.directory.GetIdentity(context.Background(), adminID)
	require.NoError(t, err)
	_, err = e.roomSvc.SetLocked(context.Background(), admin, e.subject.ID, true)
	require.NoError(t, err)
	assert.Contains(t, string(expect(t, conn, service.EventRoomState).Data), `"is_active":false`)

	send(t, conn, "message", map[string]string{"content": "hello?"})
	assert.Contains(t, string(expect(t, conn, service.EventError).Data), `"forbidden"`)

	send(t, conn, "read", nil)
	expect(t, conn, service.EventRead)
}

func TestEditDeleteAndTypingOnGateway(t *testing.T) {
	e := newEnv(t, ws.Options{})
	teacher := e.dial(t, terry.ID, e.subject.ID)
	student := e.dial(t, sam.ID, e.subject.ID)
	expect(t, teacher, service.EventUserJoined)

	send(t, student, "typing", map[string]string{})
	assert.Contains(t, string(expect(t, teacher, service.EventTyping).Data), `"identity_id":1`)
	send(t, student, "typing_stop", map[string]string{})
	assert.Contains(t, string(expect(t, teacher, service.EventTypingStop).Data), `"identity_id":1`)

	send(t, student, "message", map[string]string{"content": "draft"})
	var msg service.MessageView
	require.NoError(t, json.Unmarshal(expect(t, student, service.EventChatMessage).Data, &msg))
	expect(t, teacher, service.EventChatMessage)

	send(t, student, "edit", map[string]any{"message_id": msg.ID, "content": "final"})
	var edited service.MessageView
	require.NoError(t, json.Unmarshal(expect(t, teacher, service.EventMessageEdited).Data, &edited))
	assert.Equal(t, msg.ID, edited.ID)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.IsEdited)

	send(t, teacher, "edit", map[string]any{"message_id": msg.ID, "content": "not mine"})
	assert.Contains(t, string(expect(t, teacher, service.EventError).Data), `"forbidden"`)

	send(t, student, "delete", map[string]any{"message_id": msg.ID})
	var deleted service.MessageDeleted
	require.NoError(t, json.Unmarshal(expect(t, teacher, service.EventMessageDeleted).Data, &deleted))
	assert.Equal(t, msg.ID, deleted.ID)
	assert.Equal(t, int64(sam.ID), deleted.DeletedBy)
	assert.False(t, deleted.Hard)
}

func TestEditAndDeleteStayInSessionRoom(t *testing.T) {
	e := newEnv(t, ws.Options{})
	ctx := context.Background()
	s, err := e.directory.GetIdentity(ctx, sam.ID)
	require.NoError(t, err)
	direct, err := e.roomSvc.CreateDirect(ctx, s, terry.ID)
	require.NoError(t, err)
	elsewhere, err := e.msgSvc.Send(ctx, s, service.MessageCreateInput{RoomID: direct.ID, Content: "private"})
	require.NoError(t, err)

	conn := e.dial(t, sam.ID, e.subject.ID)
	send(t, conn, "edit", map[string]any{"message_id": elsewhere.ID, "content": "moved"})
	assert.Contains(t, string(expect(t, conn, service.EventError).Data), `"validation"`)
	send(t, conn, "delete", map[string]any{"message_id": elsewhere.ID})
	assert.Contains(t, string(expect(t, conn, service.EventError).Data), `"validation"`)

	got, err := e.msgSvc.Get(ctx, s, elsewhere.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", got.Content)
	assert.False(t, got.IsDeleted)
}

func TestReadStateGoesToReaderOnly(t *testing.T) {
	e := newEnv(t, ws.Options{})
	teacher := e.dial(t, terry.ID, e.subject.ID)
	student := e.dial(t, sam.ID, e.subject.ID)

	send(t, teacher, "message", map[string]string{"content": "homework"})
	expect(t, student, service.EventChatMessage)

	send(t, student, "read", nil)
	var state service.ReadState
	require.NoError(t, json.Unmarshal(expect(t, student, service.EventReadState).Data, &state))
	assert.Zero(t, state.UnreadCount)
	require.NotNil(t, state.LastReadAt)

	seen := expect(t, teacher, service.EventRead)
	assert.Contains(t, string(seen.Data), `"identity_id":1`)
	assert.NotContains(t, string(seen.Data), "unread_count")
}

func TestRevokedAccessClosesOnNextEvent(t *testing.T) {
	e := newEnv(t, ws.Options{})
	conn := e.dial(t, terry.ID, e.subject.ID)

	require.NoError(t, e.directory.UpsertEnrollment(context.Background(), &domain.Enrollment{
		ID: 100, StudentID: sam.ID, TeacherID: terry.ID, Subject: "Math", IsActive: false,
	}))

	send(t, conn, "typing", map[string]string{})
	assert.Equal(t, ws.CloseForbidden, expectClose(t, conn))
}

func TestPeriodicRecheckClosesDeactivatedIdentity(t *testing.T) {
	e := newEnv(t, ws.Options{RecheckInterval: 50 * time.Millisecond})
	conn := e.dial(t, sam.ID, e.subject.ID)

	require.NoError(t, e.directory.UpsertIdentity(context.Background(), &domain.Identity{
		ID: sam.ID, DisplayName: "Sam", Role: domain.RoleStudent, IsActive: false,
	}))
	assert.Equal(t, ws.CloseUnauthenticated, expectClose(t, conn))
}
