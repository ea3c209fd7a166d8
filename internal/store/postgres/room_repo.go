package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"forumchat/internal/domain"
)

const roomColumns = `r.id, r.kind, r.name, r.enrollment_id, r.created_by, r.is_active,
	r.auto_delete_after_days, r.created_at, r.updated_at`

type RoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

var _ domain.RoomRepository = (*RoomRepo)(nil)

func forumKindArgs() []string {
	kinds := make([]string, len(domain.ForumKinds))
	for i, k := range domain.ForumKinds {
		kinds[i] = string(k)
	}
	return kinds
}

func scanRoom(s scanner, extra ...any) (*domain.Room, error) {
	var (
		r                   domain.Room
		kind                string
		enrollment, creator sql.NullInt64
	)
	dest := append([]any{
		&r.ID, &kind, &r.Name, &enrollment, &creator, &r.IsActive,
		&r.AutoDeleteAfterDays, &r.CreatedAt, &r.UpdatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	r.Kind = domain.RoomKind(kind)
	r.EnrollmentID = fromNullInt(enrollment)
	r.CreatedBy = fromNullInt(creator)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (r *RoomRepo) queryRooms(ctx context.Context, msg, query string, args ...any) ([]*domain.Room, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err, msg)
	}
	defer rows.Close()

	var res []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, wrap(err, "scan room")
		}
		res = append(res, room)
	}
	return res, wrapRows(rows, msg)
}

func (r *RoomRepo) Create(ctx context.Context, room *domain.Room, participantIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO rooms (kind, name, enrollment_id, created_by, is_active, auto_delete_after_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, string(room.Kind), room.Name, room.EnrollmentID, room.CreatedBy, room.IsActive, room.AutoDeleteAfterDays,
	).Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return wrap(err, "insert room")
	}

	for _, uid := range participantIDs {
		moderator := room.CreatedBy != nil && *room.CreatedBy == uid
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (room_id, identity_id, joined_at, is_moderator)
			VALUES ($1, $2, NOW(), $3)
			ON CONFLICT DO NOTHING
		`, room.ID, uid, moderator); err != nil {
			return wrap(err, fmt.Sprintf("insert participant %d", uid))
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap(err, "commit")
	}
	return nil
}

func (r *RoomRepo) GetByID(ctx context.Context, id int64) (*domain.Room, error) {
	room, err := scanRoom(r.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1
	`, id))
	if err != nil {
		return nil, wrap(err, "get room")
	}
	return room, nil
}

func (r *RoomRepo) ProvisionForum(ctx context.Context, spec domain.ForumSpec) (*domain.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(err, "begin tx")
	}
	defer tx.Rollback()

	room, err := scanRoom(tx.QueryRowContext(ctx, `
		INSERT INTO rooms AS r (kind, name, enrollment_id, is_active, auto_delete_after_days, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, 0, NOW(), NOW())
		ON CONFLICT (enrollment_id, kind) DO UPDATE SET
			name       = EXCLUDED.name,
			updated_at = CASE WHEN r.name <> EXCLUDED.name THEN NOW() ELSE r.updated_at END
		RETURNING `+roomColumns+`
	`, string(spec.Kind), spec.Name, spec.EnrollmentID))
	if err != nil {
		return nil, wrap(err, "provision room")
	}

	for _, uid := range spec.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (room_id, identity_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING
		`, room.ID, uid); err != nil {
			return nil, wrap(err, fmt.Sprintf("provision participant %d", uid))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err, "commit")
	}
	return room, nil
}

func (r *RoomRepo) FindForEnrollment(ctx context.Context, enrollmentID int64, kind domain.RoomKind) (*domain.Room, error) {
	room, err := scanRoom(r.db.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms r WHERE r.enrollment_id = $1 AND r.kind = $2
	`, enrollmentID, string(kind)))
	if err != nil {
		return nil, wrap(err, "find enrollment room")
	}
	return room, nil
}

func (r *RoomRepo) ListForStudent(ctx context.Context, studentID int64) ([]*domain.Room, error) {
	return r.queryRooms(ctx, "list student rooms", `
		SELECT `+roomColumns+`
		FROM rooms r
		JOIN enrollments e ON e.id = r.enrollment_id
		WHERE e.student_id = $1
		ORDER BY r.id ASC
	`, studentID)
}

func (r *RoomRepo) ListForIdentity(ctx context.Context, identityID int64) ([]*domain.RoomSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+roomColumns+`, p.last_read_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.room_id = r.id
			   AND m.is_deleted = FALSE
			   AND (m.sender_id IS NULL OR m.sender_id <> p.identity_id)
			   AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread
		FROM rooms r
		JOIN participants p ON p.room_id = r.id
		WHERE p.identity_id = $1
		ORDER BY r.updated_at DESC, r.id DESC
	`, identityID)
	if err != nil {
		return nil, wrap(err, "list rooms")
	}
	defer rows.Close()

	var res []*domain.RoomSummary
	for rows.Next() {
		var (
			lastRead sql.NullTime
			unread   int
		)
		room, err := scanRoom(rows, &lastRead, &unread)
		if err != nil {
			return nil, wrap(err, "scan room summary")
		}
		res = append(res, &domain.RoomSummary{
			Room:        *room,
			LastReadAt:  fromNullTime(lastRead),
			UnreadCount: unread,
		})
	}
	return res, wrapRows(rows, "list rooms")
}

func (r *RoomRepo) ListForums(ctx context.Context) ([]*domain.Room, error) {
	return r.queryRooms(ctx, "list forums", `
		SELECT `+roomColumns+` FROM rooms r
		WHERE r.kind = ANY($1)
		ORDER BY r.updated_at DESC, r.id DESC
	`, forumKindArgs())
}

func (r *RoomRepo) ListForumCandidates(ctx context.Context, identityID int64) ([]*domain.Room, error) {
	return r.queryRooms(ctx, "list forum candidates", `
		SELECT `+roomColumns+`
		FROM rooms r
		LEFT JOIN enrollments e ON e.id = r.enrollment_id
		LEFT JOIN identities s ON s.id = e.student_id
		WHERE r.kind = ANY($1)
		  AND (
			EXISTS (SELECT 1 FROM participants p WHERE p.room_id = r.id AND p.identity_id = $2)
			OR e.teacher_id = $2
			OR s.tutor_id = $2
			OR EXISTS (
				SELECT 1 FROM participants p
				JOIN parent_links l ON l.student_id = p.identity_id
				WHERE p.room_id = r.id AND l.parent_id = $2
			)
		  )
		ORDER BY r.updated_at DESC, r.id DESC
	`, forumKindArgs(), identityID)
}

func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *RoomRepo) GetOrCreateDirect(ctx context.Context, a, b int64, name string) (*domain.Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(err, "begin tx")
	}
	defer tx.Rollback()

	key := directKey(a, b)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (kind, name, direct_key, created_by, is_active, auto_delete_after_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, 0, NOW(), NOW())
		ON CONFLICT (direct_key) DO NOTHING
	`, string(domain.RoomDirect), name, key, a); err != nil {
		return nil, wrap(err, "insert direct room")
	}
	room, err := scanRoom(tx.QueryRowContext(ctx, `
		SELECT `+roomColumns+` FROM rooms r WHERE r.direct_key = $1
	`, key))
	if err != nil {
		return nil, wrap(err, "get direct room")
	}
	for _, uid := range []int64{a, b} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (room_id, identity_id, joined_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT DO NOTHING
		`, room.ID, uid); err != nil {
			return nil, wrap(err, fmt.Sprintf("insert participant %d", uid))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrap(err, "commit")
	}
	return room, nil
}

func (r *RoomRepo) ListWithRetention(ctx context.Context) ([]*domain.Room, error) {
	return r.queryRooms(ctx, "list retention rooms", `
		SELECT `+roomColumns+` FROM rooms r
		WHERE r.auto_delete_after_days > 0
		ORDER BY r.id ASC
	`)
}

func (r *RoomRepo) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET is_active = $1, updated_at = NOW() WHERE id = $2
	`, active, id)
	if err != nil {
		return wrap(err, "set room active")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "set room active")
	}
	return nil
}

func (r *RoomRepo) SetRetention(ctx context.Context, id int64, days int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rooms SET auto_delete_after_days = $1, updated_at = NOW() WHERE id = $2
	`, days, id)
	if err != nil {
		return wrap(err, "set room retention")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "set room retention")
	}
	return nil
}

func (r *RoomRepo) Touch(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE rooms SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return wrap(err, "touch room")
	}
	return nil
}
