package postgres

import (
	"context"
	"database/sql"
	"time"

	"forumchat/internal/domain"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

var _ domain.ParticipantRepository = (*ParticipantRepo)(nil)

func (r *ParticipantRepo) Get(ctx context.Context, roomID, identityID int64) (*domain.Participant, error) {
	var (
		p        domain.Participant
		lastRead sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT room_id, identity_id, joined_at, last_read_at, is_muted, is_moderator
		FROM participants
		WHERE room_id = $1 AND identity_id = $2
	`, roomID, identityID).Scan(&p.RoomID, &p.IdentityID, &p.JoinedAt, &lastRead, &p.IsMuted, &p.IsModerator)
	if err != nil {
		return nil, wrap(err, "get participant")
	}
	p.JoinedAt = p.JoinedAt.UTC()
	p.LastReadAt = fromNullTime(lastRead)
	return &p, nil
}

func (r *ParticipantRepo) Add(ctx context.Context, roomID, identityID int64, moderator bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, identity_id, joined_at, is_moderator)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT DO NOTHING
	`, roomID, identityID, moderator)
	if err != nil {
		return false, wrap(err, "add participant")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err, "rows affected")
	}
	return n > 0, nil
}

func (r *ParticipantRepo) Remove(ctx context.Context, roomID, identityID int64) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM participants WHERE room_id = $1 AND identity_id = $2
	`, roomID, identityID); err != nil {
		return wrap(err, "remove participant")
	}
	return nil
}

func (r *ParticipantRepo) ListIDs(ctx context.Context, roomID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity_id FROM participants WHERE room_id = $1 ORDER BY identity_id
	`, roomID)
	if err != nil {
		return nil, wrap(err, "list participants")
	}
	return scanIDs(rows, "list participants")
}

func (r *ParticipantRepo) ChildParticipates(ctx context.Context, roomID, parentID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM participants p
			JOIN parent_links l ON l.student_id = p.identity_id
			WHERE p.room_id = $1 AND l.parent_id = $2
		)
	`, roomID, parentID).Scan(&exists)
	if err != nil {
		return false, wrap(err, "child participates")
	}
	return exists, nil
}

func (r *ParticipantRepo) AdvanceReadMarker(ctx context.Context, roomID, identityID int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE participants SET last_read_at = $3
		WHERE room_id = $1 AND identity_id = $2
		  AND (last_read_at IS NULL OR last_read_at < $3)
	`, roomID, identityID, at); err != nil {
		return wrap(err, "advance read marker")
	}
	return nil
}

func (r *ParticipantRepo) AdvanceReadMarkerToLatest(ctx context.Context, roomID, identityID int64) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE participants p
		SET last_read_at = l.latest
		FROM (
			SELECT MAX(created_at) AS latest
			FROM messages
			WHERE room_id = $1 AND is_deleted = FALSE
		) l
		WHERE p.room_id = $1 AND p.identity_id = $2
		  AND l.latest IS NOT NULL
		  AND (p.last_read_at IS NULL OR p.last_read_at < l.latest)
	`, roomID, identityID); err != nil {
		return wrap(err, "advance read marker to latest")
	}
	return nil
}

func (r *ParticipantRepo) UnreadCount(ctx context.Context, roomID, identityID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN participants p ON p.room_id = m.room_id AND p.identity_id = $2
		WHERE m.room_id = $1
		  AND m.is_deleted = FALSE
		  AND (m.sender_id IS NULL OR m.sender_id <> p.identity_id)
		  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
	`, roomID, identityID).Scan(&count)
	if err != nil {
		return 0, wrap(err, "count unread")
	}
	return count, nil
}
