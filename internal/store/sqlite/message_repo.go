package sqlite

import (
	"context"
	"database/sql"
	"time"

	"forumchat/internal/domain"
)

const messageColumns = `id, room_id, sender_id, content, kind, is_edited, is_deleted,
	deleted_at, deleted_by, reply_to_id, thread_id, created_at, updated_at`

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func scanMessage(s scanner) (*domain.Message, error) {
	var (
		m                                  domain.Message
		kind                               string
		sender, deletedBy, replyTo, thread sql.NullInt64
		deletedAt                          sql.NullInt64
		createdAt, updatedAt               int64
	)
	if err := s.Scan(&m.ID, &m.RoomID, &sender, &m.Content, &kind, &m.IsEdited, &m.IsDeleted,
		&deletedAt, &deletedBy, &replyTo, &thread, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.Kind = domain.MessageKind(kind)
	m.SenderID = fromNullInt(sender)
	m.DeletedAt = fromNullNanos(deletedAt)
	m.DeletedBy = fromNullInt(deletedBy)
	m.ReplyToID = fromNullInt(replyTo)
	m.ThreadID = fromNullInt(thread)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	return &m, nil
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender_id, content, kind, reply_to_id, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RoomID, nullInt(m.SenderID), m.Content, string(m.Kind),
		nullInt(m.ReplyToID), nullInt(m.ThreadID), nanos(ts), nanos(ts))
	if err != nil {
		return wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(err, "last insert id")
	}
	m.ID = id
	m.CreatedAt = ts
	m.UpdatedAt = ts
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		return nil, wrap(err, "get message")
	}
	return m, nil
}

func (r *MessageRepo) ListForRoom(ctx context.Context, roomID int64, limit, offset int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, wrap(err, "list messages")
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrap(err, "scan message")
		}
		res = append(res, m)
	}
	return res, wrapRows(rows, "list messages")
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id int64, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, is_edited = 1, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, content, nanos(now()), id)
	if err != nil {
		return wrap(err, "update message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "update message")
	}
	return nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id, deletedBy int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = 1, deleted_at = ?, deleted_by = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, nanos(at), deletedBy, nanos(at), id)
	if err != nil {
		return false, wrap(err, "soft delete message")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *MessageRepo) HardDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return wrap(err, "hard delete message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "hard delete message")
	}
	return nil
}

// PruneOlderThan removes every message of the room created before the cutoff,
// receipts first, in one transaction.
func (r *MessageRepo) PruneOlderThan(ctx context.Context, roomID int64, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap(err, "begin tx")
	}
	defer tx.Rollback()

	cutoff := nanos(before)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM read_receipts WHERE message_id IN (
			SELECT id FROM messages WHERE room_id = ? AND created_at < ?
		)
	`, roomID, cutoff); err != nil {
		return 0, wrap(err, "prune receipts")
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE room_id = ? AND created_at < ?
	`, roomID, cutoff)
	if err != nil {
		return 0, wrap(err, "prune messages")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(err, "rows affected")
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap(err, "commit")
	}
	return n, nil
}

func (r *MessageRepo) AddReceipt(ctx context.Context, messageID, identityID int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO read_receipts (message_id, identity_id, read_at)
		VALUES (?, ?, ?)
	`, messageID, identityID, nanos(at)); err != nil {
		return wrap(err, "add receipt")
	}
	return nil
}

func (r *MessageRepo) ListReceipts(ctx context.Context, messageID int64) ([]*domain.ReadReceipt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, identity_id, read_at
		FROM read_receipts
		WHERE message_id = ?
		ORDER BY read_at ASC, identity_id ASC
	`, messageID)
	if err != nil {
		return nil, wrap(err, "list receipts")
	}
	defer rows.Close()

	var res []*domain.ReadReceipt
	for rows.Next() {
		var (
			rr     domain.ReadReceipt
			readAt int64
		)
		if err := rows.Scan(&rr.MessageID, &rr.IdentityID, &readAt); err != nil {
			return nil, wrap(err, "scan receipt")
		}
		rr.ReadAt = fromNanos(readAt)
		res = append(res, &rr)
	}
	return res, wrapRows(rows, "list receipts")
}
