// Package provisioning keeps forum rooms and their participants in step with
// enrollments and tutor assignments.
//
// Directory writes (the local mirror of the triggering change) are returned
// as errors so the event is redelivered. Room side effects are logged and
// swallowed: chat must never block the enrollment workflow.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"forumchat/internal/cache"
	"forumchat/internal/domain"
	"forumchat/internal/events"
	"forumchat/internal/queue"
)

// SubjectForumName is the deterministic name of an enrollment's subject forum.
func SubjectForumName(subject, student, teacher string) string {
	return fmt.Sprintf("%s – %s ↔ %s", subject, student, teacher)
}

// TutorForumName is the name of a student's tutor forum.
func TutorForumName(student string) string {
	return student
}

type Engine struct {
	directory    domain.DirectoryRepository
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	perms        *cache.Permissions
}

var _ events.Handler = (*Engine)(nil)

// NewEngine builds the engine. perms may be nil.
func NewEngine(
	directory domain.DirectoryRepository,
	rooms domain.RoomRepository,
	participants domain.ParticipantRepository,
	perms *cache.Permissions,
) *Engine {
	return &Engine{directory: directory, rooms: rooms, participants: participants, perms: perms}
}

func invalid(event, reason string) error {
	return fmt.Errorf("%s: %w: %w", event, domain.Invalid(reason), queue.ErrSkipRetry)
}

func (e *Engine) EnrollmentCreated(ctx context.Context, ev events.EnrollmentCreated) error {
	if ev.EnrollmentID <= 0 || ev.Student.ID <= 0 || ev.Teacher.ID <= 0 {
		return invalid("enrollment created", "enrollment, student and teacher ids are required")
	}
	if strings.TrimSpace(ev.Subject) == "" {
		return invalid("enrollment created", "subject is required")
	}

	if err := e.ensure(ctx, ev.Student, domain.RoleStudent); err != nil {
		return fmt.Errorf("enrollment created: %w", err)
	}
	if err := e.ensure(ctx, ev.Teacher, domain.RoleTeacher); err != nil {
		return fmt.Errorf("enrollment created: %w", err)
	}
	if err := e.directory.UpsertEnrollment(ctx, &domain.Enrollment{
		ID:        ev.EnrollmentID,
		StudentID: ev.Student.ID,
		TeacherID: ev.Teacher.ID,
		Subject:   strings.TrimSpace(ev.Subject),
		IsActive:  true,
	}); err != nil {
		return fmt.Errorf("enrollment created: %w", err)
	}

	e.provisionEnrollment(ctx, ev.EnrollmentID)
	e.forgetRelated(ctx, ev.Student.ID)
	return nil
}

func (e *Engine) EnrollmentStatusChanged(ctx context.Context, ev events.EnrollmentStatusChanged) error {
	enr, err := e.directory.GetEnrollment(ctx, ev.EnrollmentID)
	if err != nil {
		// May arrive ahead of the creation event; retry later.
		return fmt.Errorf("enrollment status changed: %w", err)
	}
	if enr.IsActive == ev.IsActive {
		return nil
	}
	e.forgetRelated(ctx, enr.StudentID)
	enr.IsActive = ev.IsActive
	if err := e.directory.UpsertEnrollment(ctx, enr); err != nil {
		return fmt.Errorf("enrollment status changed: %w", err)
	}
	if enr.IsActive {
		e.provisionEnrollment(ctx, enr.ID)
	}
	return nil
}

func (e *Engine) TutorAssignmentChanged(ctx context.Context, ev events.TutorAssignmentChanged) error {
	if ev.Student.ID <= 0 {
		return invalid("tutor assignment changed", "student id is required")
	}
	if err := e.ensure(ctx, ev.Student, domain.RoleStudent); err != nil {
		return fmt.Errorf("tutor assignment changed: %w", err)
	}
	var newTutorID *int64
	if ev.NewTutor != nil {
		if err := e.ensure(ctx, *ev.NewTutor, domain.RoleTutor); err != nil {
			return fmt.Errorf("tutor assignment changed: %w", err)
		}
		id := ev.NewTutor.ID
		newTutorID = &id
	}

	// Drop cached answers under the old assignment before and after the write.
	e.forgetRelated(ctx, ev.Student.ID)
	if err := e.directory.SetTutor(ctx, ev.Student.ID, newTutorID); err != nil {
		return fmt.Errorf("tutor assignment changed: %w", err)
	}
	e.forgetRelated(ctx, ev.Student.ID)
	if ev.OldTutor != nil {
		e.perms.Forget(ctx, ev.OldTutor.ID, ev.Student.ID)
	}

	rooms, err := e.rooms.ListForStudent(ctx, ev.Student.ID)
	if err != nil {
		log.Printf("provisioning: list rooms of student %d: %v", ev.Student.ID, err)
		return nil
	}

	if ev.OldTutor != nil && (newTutorID == nil || *newTutorID != ev.OldTutor.ID) {
		e.removeOldTutor(ctx, rooms, ev.OldTutor.ID)
	}
	if newTutorID != nil {
		e.provisionTutorForums(ctx, ev.Student.ID, rooms, *newTutorID)
	}
	return nil
}

func (e *Engine) IdentityChanged(ctx context.Context, ev events.IdentityChanged) error {
	if ev.ID <= 0 {
		return invalid("identity changed", "id is required")
	}
	if ev.Removed {
		if err := e.directory.DeleteIdentity(ctx, ev.ID); err != nil {
			return fmt.Errorf("identity changed: %w", err)
		}
		return nil
	}
	role := domain.Role(ev.Role)
	if !role.Valid() {
		return invalid("identity changed", fmt.Sprintf("unknown role %q", ev.Role))
	}
	if err := e.directory.UpsertIdentity(ctx, &domain.Identity{
		ID:          ev.ID,
		DisplayName: ev.DisplayName,
		Role:        role,
		IsActive:    ev.IsActive,
	}); err != nil {
		return fmt.Errorf("identity changed: %w", err)
	}

	// Forum names embed the student's display name.
	if role == domain.RoleStudent {
		enrollments, err := e.directory.ActiveEnrollmentsForStudent(ctx, ev.ID)
		if err != nil {
			log.Printf("provisioning: enrollments of student %d: %v", ev.ID, err)
			return nil
		}
		for _, enr := range enrollments {
			e.provisionEnrollment(ctx, enr.ID)
		}
	}
	return nil
}

func (e *Engine) ParentLinkChanged(ctx context.Context, ev events.ParentLinkChanged) error {
	if ev.Parent.ID <= 0 || ev.Student.ID <= 0 {
		return invalid("parent link changed", "parent and student ids are required")
	}
	if err := e.ensure(ctx, ev.Parent, domain.RoleParent); err != nil {
		return fmt.Errorf("parent link changed: %w", err)
	}
	if err := e.ensure(ctx, ev.Student, domain.RoleStudent); err != nil {
		return fmt.Errorf("parent link changed: %w", err)
	}

	var err error
	if ev.Linked {
		err = e.directory.LinkParent(ctx, ev.Parent.ID, ev.Student.ID)
	} else {
		err = e.directory.UnlinkParent(ctx, ev.Parent.ID, ev.Student.ID)
	}
	if err != nil {
		return fmt.Errorf("parent link changed: %w", err)
	}
	e.perms.Forget(ctx, ev.Parent.ID, append(e.relatedTo(ctx, ev.Student.ID), ev.Student.ID)...)
	return nil
}

// ensure records an identity first seen through an event without
// overwriting what IdentityChanged already stored.
func (e *Engine) ensure(ctx context.Context, p events.Person, role domain.Role) error {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = fmt.Sprintf("%s #%d", role, p.ID)
	}
	return e.directory.EnsureIdentity(ctx, &domain.Identity{
		ID:          p.ID,
		DisplayName: name,
		Role:        role,
		IsActive:    true,
	})
}

// provisionEnrollment get-or-creates the enrollment's subject forum and, when
// the student has a tutor, its tutor forum.
func (e *Engine) provisionEnrollment(ctx context.Context, enrollmentID int64) {
	enr, err := e.directory.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		log.Printf("provisioning: enrollment %d: %v", enrollmentID, err)
		return
	}
	student, err := e.directory.GetIdentity(ctx, enr.StudentID)
	if err != nil {
		log.Printf("provisioning: student %d: %v", enr.StudentID, err)
		return
	}
	teacher, err := e.directory.GetIdentity(ctx, enr.TeacherID)
	if err != nil {
		log.Printf("provisioning: teacher %d: %v", enr.TeacherID, err)
		return
	}

	e.provision(ctx, domain.ForumSpec{
		EnrollmentID:   enr.ID,
		Kind:           domain.RoomSubjectForum,
		Name:           SubjectForumName(enr.Subject, student.DisplayName, teacher.DisplayName),
		ParticipantIDs: []int64{student.ID, teacher.ID},
	})
	if student.TutorID != nil {
		e.provision(ctx, domain.ForumSpec{
			EnrollmentID:   enr.ID,
			Kind:           domain.RoomTutorForum,
			Name:           TutorForumName(student.DisplayName),
			ParticipantIDs: []int64{student.ID, *student.TutorID},
		})
	}
}

func (e *Engine) provision(ctx context.Context, spec domain.ForumSpec) {
	_, err := e.rooms.ProvisionForum(ctx, spec)
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return
	}
	log.Printf("provisioning: %s for enrollment %d: %v", spec.Kind, spec.EnrollmentID, err)
}

func (e *Engine) removeOldTutor(ctx context.Context, rooms []*domain.Room, tutorID int64) {
	for _, room := range rooms {
		if room.Kind != domain.RoomSubjectForum && room.Kind != domain.RoomTutorForum {
			continue
		}
		if room.EnrollmentID != nil {
			enr, err := e.directory.GetEnrollment(ctx, *room.EnrollmentID)
			if err != nil {
				log.Printf("provisioning: enrollment %d: %v", *room.EnrollmentID, err)
				continue
			}
			if enr.TeacherID == tutorID {
				continue
			}
		}
		if err := e.participants.Remove(ctx, room.ID, tutorID); err != nil {
			log.Printf("provisioning: remove tutor %d from room %d: %v", tutorID, room.ID, err)
		}
	}
}

// provisionTutorForums adds the new tutor to every existing tutor forum of
// the student, renaming it, and creates one for each active enrollment that
// lacks it.
func (e *Engine) provisionTutorForums(ctx context.Context, studentID int64, rooms []*domain.Room, tutorID int64) {
	student, err := e.directory.GetIdentity(ctx, studentID)
	if err != nil {
		log.Printf("provisioning: student %d: %v", studentID, err)
		return
	}

	enrollmentIDs := make(map[int64]struct{})
	var order []int64
	add := func(id int64) {
		if _, ok := enrollmentIDs[id]; ok {
			return
		}
		enrollmentIDs[id] = struct{}{}
		order = append(order, id)
	}
	for _, room := range rooms {
		if room.Kind == domain.RoomTutorForum && room.EnrollmentID != nil {
			add(*room.EnrollmentID)
		}
	}
	active, err := e.directory.ActiveEnrollmentsForStudent(ctx, studentID)
	if err != nil {
		log.Printf("provisioning: enrollments of student %d: %v", studentID, err)
	}
	for _, enr := range active {
		add(enr.ID)
	}

	for _, id := range order {
		e.provision(ctx, domain.ForumSpec{
			EnrollmentID:   id,
			Kind:           domain.RoomTutorForum,
			Name:           TutorForumName(student.DisplayName),
			ParticipantIDs: []int64{studentID, tutorID},
		})
	}
}

// relatedTo returns the teachers and tutor of a student.
func (e *Engine) relatedTo(ctx context.Context, studentID int64) []int64 {
	var ids []int64
	if enrollments, err := e.directory.ActiveEnrollmentsForStudent(ctx, studentID); err == nil {
		for _, enr := range enrollments {
			ids = append(ids, enr.TeacherID)
		}
	}
	if student, err := e.directory.GetIdentity(ctx, studentID); err == nil && student.TutorID != nil {
		ids = append(ids, *student.TutorID)
	}
	return ids
}

// forgetRelated drops cached permissions between a student and the people
// related to them, including the student's parents.
func (e *Engine) forgetRelated(ctx context.Context, studentID int64) {
	if e.perms == nil {
		return
	}
	related := e.relatedTo(ctx, studentID)
	e.perms.Forget(ctx, studentID, related...)
	parents, err := e.directory.ParentsOf(ctx, studentID)
	if err != nil {
		log.Printf("provisioning: parents of student %d: %v", studentID, err)
		return
	}
	for _, p := range parents {
		e.perms.Forget(ctx, p, append(related, studentID)...)
	}
}
