package postgres

import (
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"

	"forumchat/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Directory read model
		`CREATE TABLE IF NOT EXISTS identities (
			id           BIGINT       PRIMARY KEY,
			display_name VARCHAR(150) NOT NULL,
			role         VARCHAR(20)  NOT NULL,
			is_active    BOOLEAN      NOT NULL DEFAULT TRUE,
			tutor_id     BIGINT       REFERENCES identities(id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id         BIGINT       PRIMARY KEY,
			student_id BIGINT       NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			teacher_id BIGINT       NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			subject    VARCHAR(100) NOT NULL,
			is_active  BOOLEAN      NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS parent_links (
			parent_id  BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			student_id BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			PRIMARY KEY (parent_id, student_id)
		)`,

		// Rooms
		`CREATE TABLE IF NOT EXISTS rooms (
			id                     BIGSERIAL    PRIMARY KEY,
			kind                   VARCHAR(20)  NOT NULL,
			name                   VARCHAR(200) NOT NULL,
			enrollment_id          BIGINT       REFERENCES enrollments(id) ON DELETE SET NULL,
			direct_key             VARCHAR(50)  UNIQUE,
			created_by             BIGINT       REFERENCES identities(id) ON DELETE SET NULL,
			is_active              BOOLEAN      NOT NULL DEFAULT TRUE,
			auto_delete_after_days INTEGER      NOT NULL DEFAULT 0,
			created_at             TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (enrollment_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			room_id      BIGINT      NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			identity_id  BIGINT      NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_read_at TIMESTAMPTZ,
			is_muted     BOOLEAN     NOT NULL DEFAULT FALSE,
			is_moderator BOOLEAN     NOT NULL DEFAULT FALSE,
			PRIMARY KEY (room_id, identity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id         BIGSERIAL    PRIMARY KEY,
			room_id    BIGINT       NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			title      VARCHAR(200) NOT NULL,
			created_by BIGINT       REFERENCES identities(id) ON DELETE SET NULL,
			is_pinned  BOOLEAN      NOT NULL DEFAULT FALSE,
			is_locked  BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id          BIGSERIAL   PRIMARY KEY,
			room_id     BIGINT      NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id   BIGINT      REFERENCES identities(id) ON DELETE SET NULL,
			content     TEXT        NOT NULL,
			kind        VARCHAR(10) NOT NULL DEFAULT 'text',
			is_edited   BOOLEAN     NOT NULL DEFAULT FALSE,
			is_deleted  BOOLEAN     NOT NULL DEFAULT FALSE,
			deleted_at  TIMESTAMPTZ,
			deleted_by  BIGINT      REFERENCES identities(id) ON DELETE SET NULL,
			reply_to_id BIGINT      REFERENCES messages(id) ON DELETE SET NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			message_id  BIGINT      NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			identity_id BIGINT      NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			read_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, identity_id)
		)`,

		// Threads arrived after messages; older databases lack the column.
		`ALTER TABLE messages ADD COLUMN IF NOT EXISTS thread_id BIGINT REFERENCES threads(id) ON DELETE SET NULL`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_identities_tutor ON identities(tutor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_student ON enrollments(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_teacher ON enrollments(teacher_id)`,
		`CREATE INDEX IF NOT EXISTS idx_parent_links_student ON parent_links(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_kind ON rooms(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_identity ON participants(identity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_room ON threads(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_live ON messages(room_id) WHERE is_deleted = FALSE`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "migrate\nSQL: %s", stmt)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// wrap maps driver errors onto domain errors and annotates the rest.
func wrap(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(domain.ErrNotFound, msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errors.Wrap(domain.ErrConflict, msg)
		case "23503": // foreign_key_violation
			return errors.Wrap(domain.ErrNotFound, msg)
		}
	}
	return errors.Wrap(err, msg)
}

func wrapRows(rows *sql.Rows, msg string) error {
	if err := rows.Err(); err != nil {
		return wrap(err, msg)
	}
	return nil
}

func scanIDs(rows *sql.Rows, msg string) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap(err, msg)
		}
		ids = append(ids, id)
	}
	return ids, wrapRows(rows, msg)
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
