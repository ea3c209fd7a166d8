package sqlite

import (
	"context"
	"database/sql"

	"forumchat/internal/domain"
)

type DirectoryRepo struct {
	db *sql.DB
}

func NewDirectoryRepo(db *sql.DB) *DirectoryRepo {
	return &DirectoryRepo{db: db}
}

var _ domain.DirectoryRepository = (*DirectoryRepo)(nil)

func (r *DirectoryRepo) UpsertIdentity(ctx context.Context, id *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, display_name, role, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			role = excluded.role,
			is_active = excluded.is_active
	`, id.ID, id.DisplayName, string(id.Role), id.IsActive)
	if err != nil {
		return wrap(err, "upsert identity")
	}
	return nil
}

func (r *DirectoryRepo) EnsureIdentity(ctx context.Context, id *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO identities (id, display_name, role, is_active)
		VALUES (?, ?, ?, ?)
	`, id.ID, id.DisplayName, string(id.Role), id.IsActive)
	if err != nil {
		return wrap(err, "ensure identity")
	}
	return nil
}

func (r *DirectoryRepo) DeleteIdentity(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id); err != nil {
		return wrap(err, "delete identity")
	}
	return nil
}

func (r *DirectoryRepo) GetIdentity(ctx context.Context, id int64) (*domain.Identity, error) {
	var (
		ident domain.Identity
		role  string
		tutor sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, is_active, tutor_id
		FROM identities WHERE id = ?
	`, id).Scan(&ident.ID, &ident.DisplayName, &role, &ident.IsActive, &tutor)
	if err != nil {
		return nil, wrap(err, "get identity")
	}
	ident.Role = domain.Role(role)
	ident.TutorID = fromNullInt(tutor)
	return &ident, nil
}

func (r *DirectoryRepo) SetTutor(ctx context.Context, studentID int64, tutorID *int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET tutor_id = ? WHERE id = ?`, nullInt(tutorID), studentID)
	if err != nil {
		return wrap(err, "set tutor")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(sql.ErrNoRows, "set tutor")
	}
	return nil
}

func (r *DirectoryRepo) UpsertEnrollment(ctx context.Context, e *domain.Enrollment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, teacher_id, subject, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			student_id = excluded.student_id,
			teacher_id = excluded.teacher_id,
			subject = excluded.subject,
			is_active = excluded.is_active
	`, e.ID, e.StudentID, e.TeacherID, e.Subject, e.IsActive)
	if err != nil {
		return wrap(err, "upsert enrollment")
	}
	return nil
}

func (r *DirectoryRepo) GetEnrollment(ctx context.Context, id int64) (*domain.Enrollment, error) {
	e := &domain.Enrollment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, teacher_id, subject, is_active
		FROM enrollments WHERE id = ?
	`, id).Scan(&e.ID, &e.StudentID, &e.TeacherID, &e.Subject, &e.IsActive)
	if err != nil {
		return nil, wrap(err, "get enrollment")
	}
	return e, nil
}

func (r *DirectoryRepo) ActiveEnrollmentsForStudent(ctx context.Context, studentID int64) ([]*domain.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, teacher_id, subject, is_active
		FROM enrollments
		WHERE student_id = ? AND is_active = 1
		ORDER BY id ASC
	`, studentID)
	if err != nil {
		return nil, wrap(err, "list enrollments")
	}
	defer rows.Close()

	var res []*domain.Enrollment
	for rows.Next() {
		e := &domain.Enrollment{}
		if err := rows.Scan(&e.ID, &e.StudentID, &e.TeacherID, &e.Subject, &e.IsActive); err != nil {
			return nil, wrap(err, "scan enrollment")
		}
		res = append(res, e)
	}
	return res, wrapRows(rows, "list enrollments")
}

func (r *DirectoryRepo) LinkParent(ctx context.Context, parentID, studentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO parent_links (parent_id, student_id) VALUES (?, ?)
	`, parentID, studentID)
	if err != nil {
		return wrap(err, "link parent")
	}
	return nil
}

func (r *DirectoryRepo) UnlinkParent(ctx context.Context, parentID, studentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM parent_links WHERE parent_id = ? AND student_id = ?
	`, parentID, studentID)
	if err != nil {
		return wrap(err, "unlink parent")
	}
	return nil
}

func (r *DirectoryRepo) ChildrenOf(ctx context.Context, parentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM parent_links WHERE parent_id = ? ORDER BY student_id
	`, parentID)
	if err != nil {
		return nil, wrap(err, "children of")
	}
	return scanIDs(rows, "children of")
}

func (r *DirectoryRepo) ParentsOf(ctx context.Context, studentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT parent_id FROM parent_links WHERE student_id = ? ORDER BY parent_id
	`, studentID)
	if err != nil {
		return nil, wrap(err, "parents of")
	}
	return scanIDs(rows, "parents of")
}
