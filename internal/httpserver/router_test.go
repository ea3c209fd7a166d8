package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumchat/internal/domain"
	"forumchat/internal/events"
	"forumchat/internal/httpserver"
	"forumchat/internal/notify"
	"forumchat/internal/provisioning"
	"forumchat/internal/security"
	"forumchat/internal/service"
	"forumchat/internal/store/sqlite"
)

var (
	sam   = events.Person{ID: 1, DisplayName: "Sam"}
	terry = events.Person{ID: 2, DisplayName: "Terry"}
	uma   = events.Person{ID: 3, DisplayName: "Uma"}
)

const (
	adminID = 5
	ollyID  = 6
)

type env struct {
	handler http.Handler
	tokens  *security.TokenService
	subject *domain.Room
	tutor   *domain.Room
}

func newEnv(t *testing.T) *env {
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
	require.NoError(t, engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, NewTutor: &uma}))
	require.NoError(t, directory.UpsertIdentity(ctx, &domain.Identity{ID: adminID, DisplayName: "Ada", Role: domain.RoleAdmin, IsActive: true}))
	require.NoError(t, directory.UpsertIdentity(ctx, &domain.Identity{ID: ollyID, DisplayName: "Olly", Role: domain.RoleStudent, IsActive: true}))

	tokens := security.NewTokenService("test-secret", time.Hour)
	accessSvc := service.NewAccessService(directory, rooms, participants)
	broadcaster := service.NopBroadcaster{}
	handler := httpserver.NewRouter(httpserver.Deps{
		AppName:    "forumchat",
		Identities: service.NewIdentityService(tokens, directory),
		Rooms:      service.NewRoomService(directory, rooms, participants, accessSvc, nil, broadcaster),
		Messages: service.NewMessageService(directory, rooms, participants, messages, threads,
			accessSvc, broadcaster, notify.NopSink{}, 5000, 500),
		Threads: service.NewThreadService(threads, accessSvc, broadcaster),
		Ready:   db.PingContext,
	})

	e := &env{handler: handler, tokens: tokens}
	e.subject, err = rooms.FindForEnrollment(ctx, 100, domain.RoomSubjectForum)
	require.NoError(t, err)
	e.tutor, err = rooms.FindForEnrollment(ctx, 100, domain.RoomTutorForum)
	require.NoError(t, err)
	return e
}

// do performs a request as identityID (0 for anonymous) and decodes the
// response into out when given.
func (e *env) do(t *testing.T, identityID int64, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if identityID != 0 {
		token, err := e.tokens.CreateForIdentity(identityID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealthAndAuth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, 0, http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, 0, http.MethodGet, "/api/rooms", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, 99, http.MethodGet, "/api/rooms", nil, nil))

	var me domain.Identity
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet, "/api/me", nil, &me))
	assert.Equal(t, domain.RoleStudent, me.Role)
}

func TestAdminForumList(t *testing.T) {
	e := newEnv(t)
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodPost, "/api/rooms/direct",
		map[string]int64{"identity_id": terry.ID}, nil))

	var forums []domain.Room
	require.Equal(t, http.StatusOK, e.do(t, adminID, http.MethodGet, "/api/forums", nil, &forums))
	var ids []int64
	for _, f := range forums {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []int64{e.subject.ID, e.tutor.ID}, ids)

	var mine []domain.RoomSummary
	require.Equal(t, http.StatusOK, e.do(t, adminID, http.MethodGet, "/api/rooms", nil, &mine))
	assert.Empty(t, mine, "reading forums never makes the admin a participant")
}

func TestRoomVisibilityStatusCodes(t *testing.T) {
	e := newEnv(t)
	var direct domain.Room
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodPost, "/api/rooms/direct",
		map[string]int64{"identity_id": terry.ID}, &direct))

	assert.Equal(t, http.StatusNotFound, e.do(t, adminID, http.MethodGet, fmt.Sprintf("/api/rooms/%d", direct.ID), nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, ollyID, http.MethodGet, fmt.Sprintf("/api/rooms/%d", e.subject.ID), nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, terry.ID, http.MethodGet, fmt.Sprintf("/api/rooms/%d", e.tutor.ID), nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, sam.ID, http.MethodGet, "/api/rooms/999", nil, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, sam.ID, http.MethodGet, "/api/rooms/abc", nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, sam.ID, http.MethodPost, "/api/rooms/direct",
		map[string]int64{"identity_id": ollyID}, nil))
}

func TestMessageLifecycle(t *testing.T) {
	e := newEnv(t)
	base := fmt.Sprintf("/api/rooms/%d/messages", e.subject.ID)

	assert.Equal(t, http.StatusBadRequest, e.do(t, sam.ID, http.MethodPost, base, map[string]string{"content": "  "}, nil))

	var sent []service.MessageView
	for i := 0; i < 3; i++ {
		var v service.MessageView
		require.Equal(t, http.StatusCreated, e.do(t, sam.ID, http.MethodPost, base,
			map[string]string{"content": fmt.Sprintf("msg %d", i)}, &v))
		sent = append(sent, v)
	}

	var page []service.MessageView
	require.Equal(t, http.StatusOK, e.do(t, terry.ID, http.MethodGet, base+"?limit=2&offset=1", nil, &page))
	require.Len(t, page, 2)
	assert.Equal(t, sent[0].ID, page[0].ID, "chronological within the page")
	assert.Equal(t, sent[1].ID, page[1].ID)

	assert.Equal(t, http.StatusOK, e.do(t, terry.ID, http.MethodGet, base+"?limit=100000", nil, nil), "limit is capped")
	assert.Equal(t, http.StatusBadRequest, e.do(t, terry.ID, http.MethodGet, base+"?limit=-1", nil, nil))

	msgPath := fmt.Sprintf("/api/messages/%d", sent[0].ID)
	assert.Equal(t, http.StatusForbidden, e.do(t, terry.ID, http.MethodPatch, msgPath, map[string]string{"content": "mine now"}, nil))

	var edited service.MessageView
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodPatch, msgPath, map[string]string{"content": "fixed"}, &edited))
	assert.True(t, edited.IsEdited)

	var deleted service.MessageView
	require.Equal(t, http.StatusOK, e.do(t, terry.ID, http.MethodDelete, msgPath, nil, &deleted))
	assert.True(t, deleted.IsDeleted)

	var got service.MessageView
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet, msgPath, nil, &got))
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)

	assert.Equal(t, http.StatusForbidden, e.do(t, terry.ID, http.MethodDelete, msgPath+"?hard=true", nil, nil))
	assert.Equal(t, http.StatusNoContent, e.do(t, adminID, http.MethodDelete, msgPath+"?hard=true", nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, sam.ID, http.MethodGet, msgPath, nil, nil))
}

func TestReadAndReceipts(t *testing.T) {
	e := newEnv(t)
	var v service.MessageView
	require.Equal(t, http.StatusCreated, e.do(t, terry.ID, http.MethodPost,
		fmt.Sprintf("/api/rooms/%d/messages", e.subject.ID), map[string]string{"content": "read me"}, &v))

	var rooms []domain.RoomSummary
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet, "/api/rooms", nil, &rooms))
	for _, r := range rooms {
		if r.ID == e.subject.ID {
			assert.Equal(t, 1, r.UnreadCount)
		}
	}

	var state service.ReadState
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodPost,
		fmt.Sprintf("/api/rooms/%d/read", e.subject.ID), map[string]int64{"message_id": v.ID}, &state))
	assert.Equal(t, 0, state.UnreadCount)

	var receipts []domain.ReadReceipt
	require.Equal(t, http.StatusOK, e.do(t, terry.ID, http.MethodGet, fmt.Sprintf("/api/messages/%d/receipts", v.ID), nil, &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, sam.ID, receipts[0].IdentityID)
}

func TestPinAndLock(t *testing.T) {
	e := newEnv(t)
	threads := fmt.Sprintf("/api/rooms/%d/threads", e.subject.ID)

	var first, second domain.Thread
	require.Equal(t, http.StatusCreated, e.do(t, sam.ID, http.MethodPost, threads, map[string]string{"title": "Fractions"}, &first))
	require.Equal(t, http.StatusCreated, e.do(t, sam.ID, http.MethodPost, threads, map[string]string{"title": "Decimals"}, &second))

	pin := fmt.Sprintf("/api/threads/%d/pin", first.ID)
	assert.Equal(t, http.StatusForbidden, e.do(t, sam.ID, http.MethodPost, pin, nil, nil))
	require.Equal(t, http.StatusOK, e.do(t, terry.ID, http.MethodPost, pin, nil, nil))

	var list []domain.Thread
	require.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet, threads, nil, &list))
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.True(t, list[0].IsPinned)

	lock := fmt.Sprintf("/api/rooms/%d/lock", e.subject.ID)
	assert.Equal(t, http.StatusForbidden, e.do(t, terry.ID, http.MethodPost, lock, nil, nil))
	require.Equal(t, http.StatusOK, e.do(t, adminID, http.MethodPost, lock, nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, sam.ID, http.MethodPost,
		fmt.Sprintf("/api/rooms/%d/messages", e.subject.ID), map[string]string{"content": "hi"}, nil))
	assert.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet,
		fmt.Sprintf("/api/rooms/%d/messages", e.subject.ID), nil, nil))
}

func TestCreateGroup(t *testing.T) {
	e := newEnv(t)

	var room domain.Room
	require.Equal(t, http.StatusCreated, e.do(t, terry.ID, http.MethodPost, "/api/rooms/group",
		map[string]any{"name": "Study", "participant_ids": []int64{sam.ID}}, &room))
	assert.Equal(t, domain.RoomGroup, room.Kind)
	assert.Equal(t, http.StatusOK, e.do(t, sam.ID, http.MethodGet, fmt.Sprintf("/api/rooms/%d", room.ID), nil, nil))

	assert.Equal(t, http.StatusForbidden, e.do(t, sam.ID, http.MethodPost, "/api/rooms/group",
		map[string]any{"name": "Mine", "participant_ids": []int64{terry.ID}}, nil))
}

func TestUpdateRoomRetention(t *testing.T) {
	e := newEnv(t)
	path := fmt.Sprintf("/api/rooms/%d", e.subject.ID)

	assert.Equal(t, http.StatusForbidden, e.do(t, terry.ID, http.MethodPatch, path, map[string]int{"auto_delete_after_days": 30}, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, adminID, http.MethodPatch, path, map[string]int{}, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, adminID, http.MethodPatch, path, map[string]int{"auto_delete_after_days": -3}, nil))

	var room domain.Room
	require.Equal(t, http.StatusOK, e.do(t, adminID, http.MethodPatch, path, map[string]int{"auto_delete_after_days": 30}, &room))
	assert.Equal(t, 30, room.AutoDeleteAfterDays)

	var group domain.Room
	require.Equal(t, http.StatusCreated, e.do(t, terry.ID, http.MethodPost, "/api/rooms/group",
		map[string]any{"name": "Short lived", "participant_ids": []int64{sam.ID}, "auto_delete_after_days": 1}, &group))
	assert.Equal(t, 1, group.AutoDeleteAfterDays)
}
