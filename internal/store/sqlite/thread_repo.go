package sqlite

import (
	"context"
	"database/sql"

	"forumchat/internal/domain"
)

type ThreadRepo struct {
	db *sql.DB
}

func NewThreadRepo(db *sql.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

var _ domain.ThreadRepository = (*ThreadRepo)(nil)

func scanThread(s scanner) (*domain.Thread, error) {
	var (
		t                    domain.Thread
		creator              sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := s.Scan(&t.ID, &t.RoomID, &t.Title, &creator, &t.IsPinned, &t.IsLocked, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.CreatedBy = fromNullInt(creator)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	return &t, nil
}

func (r *ThreadRepo) Create(ctx context.Context, t *domain.Thread) error {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO threads (room_id, title, created_by, is_pinned, is_locked, created_at, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, ?)
	`, t.RoomID, t.Title, nullInt(t.CreatedBy), nanos(ts), nanos(ts))
	if err != nil {
		return wrap(err, "insert thread")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(err, "last insert id")
	}
	t.ID = id
	t.IsPinned, t.IsLocked = false, false
	t.CreatedAt, t.UpdatedAt = ts, ts
	return nil
}

func (r *ThreadRepo) GetByID(ctx context.Context, id int64) (*domain.Thread, error) {
	t, err := scanThread(r.db.QueryRowContext(ctx, `
		SELECT id, room_id, title, created_by, is_pinned, is_locked, created_at, updated_at
		FROM threads WHERE id = ?
	`, id))
	if err != nil {
		return nil, wrap(err, "get thread")
	}
	return t, nil
}

func (r *ThreadRepo) ListForRoom(ctx context.Context, roomID int64) ([]*domain.Thread, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, room_id, title, created_by, is_pinned, is_locked, created_at, updated_at
		FROM threads
		WHERE room_id = ?
		ORDER BY is_pinned DESC, updated_at DESC, id DESC
	`, roomID)
	if err != nil {
		return nil, wrap(err, "list threads")
	}
	defer rows.Close()

	var res []*domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, wrap(err, "scan thread")
		}
		res = append(res, t)
	}
	return res, wrapRows(rows, "list threads")
}

func (r *ThreadRepo) SetPinned(ctx context.Context, id int64, pinned bool) error {
	return r.setFlag(ctx, "is_pinned", id, pinned)
}

func (r *ThreadRepo) SetLocked(ctx context.Context, id int64, locked bool) error {
	return r.setFlag(ctx, "is_locked", id, locked)
}

// setFlag only ever receives a column name from this file.
func (r *ThreadRepo) setFlag(ctx context.Context, column string, id int64, v bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE threads SET `+column+` = ?, updated_at = ? WHERE id = ?
	`, v, nanos(now()), id)
	if err != nil {
		return wrap(err, "set thread "+column)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "set thread "+column)
	}
	return nil
}

func (r *ThreadRepo) Touch(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, nanos(now()), id); err != nil {
		return wrap(err, "touch thread")
	}
	return nil
}
