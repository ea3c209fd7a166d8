package postgres

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
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role         = EXCLUDED.role,
			is_active    = EXCLUDED.is_active
	`, id.ID, id.DisplayName, string(id.Role), id.IsActive)
	if err != nil {
		return wrap(err, "upsert identity")
	}
	return nil
}

func (r *DirectoryRepo) EnsureIdentity(ctx context.Context, id *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, display_name, role, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, id.ID, id.DisplayName, string(id.Role), id.IsActive)
	if err != nil {
		return wrap(err, "ensure identity")
	}
	return nil
}

func (r *DirectoryRepo) DeleteIdentity(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id); err != nil {
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
		FROM identities WHERE id = $1
	`, id).Scan(&ident.ID, &ident.DisplayName, &role, &ident.IsActive, &tutor)
	if err != nil {
		return nil, wrap(err, "get identity")
	}
	ident.Role = domain.Role(role)
	ident.TutorID = fromNullInt(tutor)
	return &ident, nil
}

func (r *DirectoryRepo) SetTutor(ctx context.Context, studentID int64, tutorID *int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET tutor_id = $1 WHERE id = $2`, tutorID, studentID)
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			student_id = EXCLUDED.student_id,
			teacher_id = EXCLUDED.teacher_id,
			subject    = EXCLUDED.subject,
			is_active  = EXCLUDED.is_active
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
		FROM enrollments WHERE id = $1
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
		WHERE student_id = $1 AND is_active = TRUE
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
		INSERT INTO parent_links (parent_id, student_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, parentID, studentID)
	if err != nil {
		return wrap(err, "link parent")
	}
	return nil
}

func (r *DirectoryRepo) UnlinkParent(ctx context.Context, parentID, studentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM parent_links WHERE parent_id = $1 AND student_id = $2
	`, parentID, studentID)
	if err != nil {
		return wrap(err, "unlink parent")
	}
	return nil
}

func (r *DirectoryRepo) ChildrenOf(ctx context.Context, parentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM parent_links WHERE parent_id = $1 ORDER BY student_id
	`, parentID)
	if err != nil {
		return nil, wrap(err, "children of")
	}
	return scanIDs(rows, "children of")
}

func (r *DirectoryRepo) ParentsOf(ctx context.Context, studentID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT parent_id FROM parent_links WHERE student_id = $1 ORDER BY parent_id
	`, studentID)
	if err != nil {
		return nil, wrap(err, "parents of")
	}
	return scanIDs(rows, "parents of")
}
