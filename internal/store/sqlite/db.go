package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"forumchat/internal/domain"
)

// Open opens a SQLite database with the given DSN. The pool is capped at one
// connection so that PRAGMAs apply everywhere and writers never collide.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %s", pragma)
		}
	}
	return db, nil
}

// Migrate creates the schema. Timestamps are stored as unix nanoseconds so
// that comparisons are numeric.
func Migrate(db *sql.DB) error {
	stmts := []string{
		// Directory read model, fed by domain events
		`CREATE TABLE IF NOT EXISTS identities (
			id           INTEGER PRIMARY KEY,
			display_name VARCHAR(150) NOT NULL,
			role         VARCHAR(20) NOT NULL,
			is_active    BOOLEAN NOT NULL DEFAULT 1,
			tutor_id     INTEGER DEFAULT NULL REFERENCES identities(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id         INTEGER PRIMARY KEY,
			student_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			teacher_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			subject    VARCHAR(100) NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS parent_links (
			parent_id  INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			student_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			PRIMARY KEY (parent_id, student_id)
		);`,
		// Rooms
		`CREATE TABLE IF NOT EXISTS rooms (
			id                     INTEGER PRIMARY KEY,
			kind                   VARCHAR(20) NOT NULL,
			name                   VARCHAR(200) NOT NULL,
			enrollment_id          INTEGER DEFAULT NULL REFERENCES enrollments(id) ON DELETE SET NULL,
			direct_key             VARCHAR(50) DEFAULT NULL UNIQUE,
			created_by             INTEGER DEFAULT NULL REFERENCES identities(id) ON DELETE SET NULL,
			is_active              BOOLEAN NOT NULL DEFAULT 1,
			auto_delete_after_days INTEGER NOT NULL DEFAULT 0,
			created_at             INTEGER NOT NULL,
			updated_at             INTEGER NOT NULL,
			UNIQUE (enrollment_id, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			room_id      INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			identity_id  INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			joined_at    INTEGER NOT NULL,
			last_read_at INTEGER DEFAULT NULL,
			is_muted     BOOLEAN NOT NULL DEFAULT 0,
			is_moderator BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (room_id, identity_id)
		);`,
		`CREATE TABLE IF NOT EXISTS threads (
			id         INTEGER PRIMARY KEY,
			room_id    INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			title      VARCHAR(200) NOT NULL,
			created_by INTEGER DEFAULT NULL REFERENCES identities(id) ON DELETE SET NULL,
			is_pinned  BOOLEAN NOT NULL DEFAULT 0,
			is_locked  BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          INTEGER PRIMARY KEY,
			room_id     INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id   INTEGER DEFAULT NULL REFERENCES identities(id) ON DELETE SET NULL,
			content     TEXT NOT NULL,
			kind        VARCHAR(10) NOT NULL DEFAULT 'text',
			is_edited   BOOLEAN NOT NULL DEFAULT 0,
			is_deleted  BOOLEAN NOT NULL DEFAULT 0,
			deleted_at  INTEGER DEFAULT NULL,
			deleted_by  INTEGER DEFAULT NULL REFERENCES identities(id) ON DELETE SET NULL,
			reply_to_id INTEGER DEFAULT NULL REFERENCES messages(id) ON DELETE SET NULL,
			thread_id   INTEGER DEFAULT NULL REFERENCES threads(id) ON DELETE SET NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
			message_id  INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			identity_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			read_at     INTEGER NOT NULL,
			PRIMARY KEY (message_id, identity_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_identities_tutor ON identities(tutor_id);`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_student ON enrollments(student_id);`,
		`CREATE INDEX IF NOT EXISTS idx_enrollments_teacher ON enrollments(teacher_id);`,
		`CREATE INDEX IF NOT EXISTS idx_parent_links_student ON parent_links(student_id);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_kind ON rooms(kind);`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_updated_at ON rooms(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_identity ON participants(identity_id);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_room ON threads(room_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrate")
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
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return errors.Wrap(domain.ErrConflict, msg)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return errors.Wrap(domain.ErrNotFound, msg)
		}
	}
	return errors.Wrap(err, msg)
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullInt(v *int64) driver.Value {
	if v == nil {
		return nil
	}
	return *v
}

func now() time.Time { return time.Now().UTC() }

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
