package provisioning_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumchat/internal/domain"
	"forumchat/internal/events"
	"forumchat/internal/provisioning"
	"forumchat/internal/queue"
	"forumchat/internal/store/sqlite"
)

var (
	sam   = events.Person{ID: 1, DisplayName: "Sam"}
	terry = events.Person{ID: 2, DisplayName: "Terry"}
	uma   = events.Person{ID: 3, DisplayName: "Uma"}
	vic   = events.Person{ID: 4, DisplayName: "Vic"}
	pat   = events.Person{ID: 5, DisplayName: "Pat"}
)

type env struct {
	engine       *provisioning.Engine
	directory    *sqlite.DirectoryRepo
	rooms        *sqlite.RoomRepo
	participants *sqlite.ParticipantRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	e := &env{
		directory:    sqlite.NewDirectoryRepo(db),
		rooms:        sqlite.NewRoomRepo(db),
		participants: sqlite.NewParticipantRepo(db),
	}
	e.engine = provisioning.NewEngine(e.directory, e.rooms, e.participants, nil)
	return e
}

func enrollment(id int64) events.EnrollmentCreated {
	return events.EnrollmentCreated{EnrollmentID: id, Student: sam, Teacher: terry, Subject: "Math"}
}

func (e *env) members(t *testing.T, enrollmentID int64, kind domain.RoomKind) []int64 {
	t.Helper()
	room, err := e.rooms.FindForEnrollment(context.Background(), enrollmentID, kind)
	require.NoError(t, err)
	ids, err := e.participants.ListIDs(context.Background(), room.ID)
	require.NoError(t, err)
	return ids
}

func TestEnrollmentCreatedIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))
	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))

	forums, err := e.rooms.ListForums(ctx)
	require.NoError(t, err)
	require.Len(t, forums, 1)
	assert.Equal(t, domain.RoomSubjectForum, forums[0].Kind)
	assert.Equal(t, "Math – Sam ↔ Terry", forums[0].Name)
	assert.Equal(t, []int64{sam.ID, terry.ID}, e.members(t, 100, domain.RoomSubjectForum))

	_, err = e.rooms.FindForEnrollment(ctx, 100, domain.RoomTutorForum)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no tutor, no tutor forum")
}

func TestEnrollmentWithTutorCreatesTutorForum(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, NewTutor: &uma}))
	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))

	room, err := e.rooms.FindForEnrollment(ctx, 100, domain.RoomTutorForum)
	require.NoError(t, err)
	assert.Equal(t, "Sam", room.Name)
	assert.Equal(t, []int64{sam.ID, uma.ID}, e.members(t, 100, domain.RoomTutorForum), "teacher excluded")
	assert.Equal(t, []int64{sam.ID, terry.ID}, e.members(t, 100, domain.RoomSubjectForum))
}

func TestTutorReassignment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))
	require.NoError(t, e.engine.EnrollmentCreated(ctx, events.EnrollmentCreated{
		EnrollmentID: 101, Student: sam, Teacher: terry, Subject: "Physics",
	}))

	// First assignment creates a tutor forum per active enrollment.
	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, NewTutor: &uma}))
	assert.Equal(t, []int64{sam.ID, uma.ID}, e.members(t, 100, domain.RoomTutorForum))
	assert.Equal(t, []int64{sam.ID, uma.ID}, e.members(t, 101, domain.RoomTutorForum))

	// The old tutor had also been added to a subject forum by hand.
	subject, err := e.rooms.FindForEnrollment(ctx, 100, domain.RoomSubjectForum)
	require.NoError(t, err)
	_, err = e.participants.Add(ctx, subject.ID, uma.ID, false)
	require.NoError(t, err)

	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, OldTutor: &uma, NewTutor: &vic}))
	assert.Equal(t, []int64{sam.ID, vic.ID}, e.members(t, 100, domain.RoomTutorForum))
	assert.Equal(t, []int64{sam.ID, vic.ID}, e.members(t, 101, domain.RoomTutorForum))
	assert.Equal(t, []int64{sam.ID, terry.ID}, e.members(t, 100, domain.RoomSubjectForum))

	student, err := e.directory.GetIdentity(ctx, sam.ID)
	require.NoError(t, err)
	require.NotNil(t, student.TutorID)
	assert.Equal(t, vic.ID, *student.TutorID)

	forums, err := e.rooms.ListForums(ctx)
	require.NoError(t, err)
	assert.Len(t, forums, 4, "reassignment never duplicates rooms")
}

func TestOldTutorWhoTeachesStays(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))
	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, NewTutor: &terry}))
	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, OldTutor: &terry, NewTutor: &uma}))

	assert.Equal(t, []int64{sam.ID, terry.ID}, e.members(t, 100, domain.RoomSubjectForum))
	assert.Equal(t, []int64{sam.ID, terry.ID, uma.ID}, e.members(t, 100, domain.RoomTutorForum))
}

func TestTutorRemoval(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))
	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, NewTutor: &uma}))
	require.NoError(t, e.engine.TutorAssignmentChanged(ctx, events.TutorAssignmentChanged{Student: sam, OldTutor: &uma}))

	assert.Equal(t, []int64{sam.ID}, e.members(t, 100, domain.RoomTutorForum))
	student, err := e.directory.GetIdentity(ctx, sam.ID)
	require.NoError(t, err)
	assert.Nil(t, student.TutorID)
}

func TestStudentRenameRefreshesForumNames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))
	require.NoError(t, e.engine.IdentityChanged(ctx, events.IdentityChanged{
		ID: sam.ID, DisplayName: "Samantha", Role: "student", IsActive: true,
	}))

	room, err := e.rooms.FindForEnrollment(ctx, 100, domain.RoomSubjectForum)
	require.NoError(t, err)
	assert.Equal(t, "Math – Samantha ↔ Terry", room.Name)
}

func TestEnrollmentStatusChanged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))

	require.NoError(t, e.engine.EnrollmentStatusChanged(ctx, events.EnrollmentStatusChanged{EnrollmentID: 100, IsActive: false}))
	enr, err := e.directory.GetEnrollment(ctx, 100)
	require.NoError(t, err)
	assert.False(t, enr.IsActive)

	err = e.engine.EnrollmentStatusChanged(ctx, events.EnrollmentStatusChanged{EnrollmentID: 999, IsActive: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParentLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.ParentLinkChanged(ctx, events.ParentLinkChanged{Parent: pat, Student: sam, Linked: true}))
	children, err := e.directory.ChildrenOf(ctx, pat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{sam.ID}, children)

	parent, err := e.directory.GetIdentity(ctx, pat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleParent, parent.Role)

	require.NoError(t, e.engine.ParentLinkChanged(ctx, events.ParentLinkChanged{Parent: pat, Student: sam, Linked: false}))
	children, err = e.directory.ChildrenOf(ctx, pat.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestIdentityRemoval(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.engine.EnrollmentCreated(ctx, enrollment(100)))

	require.NoError(t, e.engine.IdentityChanged(ctx, events.IdentityChanged{ID: terry.ID, Removed: true}))
	_, err := e.directory.GetIdentity(ctx, terry.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidPayloadsAreNotRetried(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	err := e.engine.EnrollmentCreated(ctx, events.EnrollmentCreated{EnrollmentID: 1, Student: sam, Teacher: terry})
	assert.ErrorIs(t, err, queue.ErrSkipRetry)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = e.engine.IdentityChanged(ctx, events.IdentityChanged{ID: 9, Role: "janitor"})
	assert.ErrorIs(t, err, queue.ErrSkipRetry)
}

type failingRooms struct {
	domain.RoomRepository
}

func (failingRooms) ProvisionForum(context.Context, domain.ForumSpec) (*domain.Room, error) {
	return nil, errors.New("database unavailable")
}

func TestRoomFailuresDoNotFailTheEvent(t *testing.T) {
	e := newEnv(t)
	engine := provisioning.NewEngine(e.directory, failingRooms{e.rooms}, e.participants, nil)

	require.NoError(t, engine.EnrollmentCreated(context.Background(), enrollment(100)))

	enr, err := e.directory.GetEnrollment(context.Background(), 100)
	require.NoError(t, err, "the directory write still happens")
	assert.True(t, enr.IsActive)
}
