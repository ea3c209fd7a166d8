package postgres

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
		t       domain.Thread
		creator sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.RoomID, &t.Title, &creator, &t.IsPinned, &t.IsLocked, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.CreatedBy = fromNullInt(creator)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (r *ThreadRepo) Create(ctx context.Context, t *domain.Thread) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO threads (room_id, title, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, is_pinned, is_locked, created_at, updated_at
	`, t.RoomID, t.Title, t.CreatedBy).Scan(&t.ID, &t.IsPinned, &t.IsLocked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return wrap(err, "insert thread")
	}
	return nil
}

func (r *ThreadRepo) GetByID(ctx context.Context, id int64) (*domain.Thread, error) {
	t, err := scanThread(r.db.QueryRowContext(ctx, `
		SELECT id, room_id, title, created_by, is_pinned, is_locked, created_at, updated_at
		FROM threads WHERE id = $1
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
		WHERE room_id = $1
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
	res, err := r.db.ExecContext(ctx, `UPDATE threads SET is_pinned = $1, updated_at = NOW() WHERE id = $2`, pinned, id)
	if err != nil {
		return wrap(err, "pin thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "pin thread")
	}
	return nil
}

func (r *ThreadRepo) SetLocked(ctx context.Context, id int64, locked bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE threads SET is_locked = $1, updated_at = NOW() WHERE id = $2`, locked, id)
	if err != nil {
		return wrap(err, "lock thread")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "lock thread")
	}
	return nil
}

func (r *ThreadRepo) Touch(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE threads SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return wrap(err, "touch thread")
	}
	return nil
}
