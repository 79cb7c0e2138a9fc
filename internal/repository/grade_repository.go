package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
)

const (
	gradeColumns = `g.id, g.student_id, g.course_code, g.course_name, g.grade, g.score, g.credit_hours, g.semester, g.academic_year,
        g.uploaded_by, g.uploader_role, g.approval_status, g.published, g.approved_by, g.approval_date, g.rejection_reason,
        g.submitted_date, g.created_at, g.updated_at`

	gradeViewFrom = `FROM grades g
        LEFT JOIN students s ON s.student_id = g.student_id
        LEFT JOIN teachers t ON t.teacher_id = g.uploaded_by`
)

var gradeViewSelect = "SELECT " + gradeColumns + ", COALESCE(s.full_name, '') AS student_name, t.full_name AS teacher_name "

// GradeRepository persists grades and their approval sub-state.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository constructs a GradeRepository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// Create inserts a grade and sets its id.
func (r *GradeRepository) Create(ctx context.Context, grade *models.Grade) error {
	now := time.Now().UTC()
	grade.CreatedAt = now
	grade.UpdatedAt = now
	const query = `INSERT INTO grades (student_id, course_code, course_name, grade, score, credit_hours, semester, academic_year,
        uploaded_by, uploader_role, approval_status, published, approved_by, approval_date, submitted_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		grade.StudentID, grade.CourseCode, grade.CourseName, grade.Grade, grade.Score, grade.CreditHours, grade.Semester,
		grade.AcademicYear, grade.UploadedBy, grade.UploaderRole, grade.ApprovalStatus, grade.Published, grade.ApprovedBy,
		grade.ApprovalDate, grade.SubmittedDate, grade.CreatedAt, grade.UpdatedAt,
	).Scan(&grade.ID)
	if err != nil {
		return fmt.Errorf("create grade: %w", err)
	}
	return nil
}

// FindByID returns the grade with display names, or sql.ErrNoRows.
func (r *GradeRepository) FindByID(ctx context.Context, id int64) (*models.GradeView, error) {
	var grade models.GradeView
	if err := database.Conn(ctx, r.db).GetContext(ctx, &grade, gradeViewSelect+gradeViewFrom+" WHERE g.id = $1", id); err != nil {
		return nil, err
	}
	return &grade, nil
}

// Approve publishes a pending grade. Returns sql.ErrNoRows when the grade is missing or not pending.
func (r *GradeRepository) Approve(ctx context.Context, id int64, approvedBy string, at time.Time) error {
	const query = `UPDATE grades SET approval_status = $2, published = TRUE, approved_by = $3, approval_date = $4, updated_at = $4
        WHERE id = $1 AND approval_status = $5`
	return r.transition(ctx, query, id, models.ApprovalPublished, approvedBy, at, models.ApprovalPending)
}

// Reject rejects a pending grade. Returns sql.ErrNoRows when the grade is missing or not pending.
func (r *GradeRepository) Reject(ctx context.Context, id int64, reason string, at time.Time) error {
	const query = `UPDATE grades SET approval_status = $2, published = FALSE, rejection_reason = $3, updated_at = $4
        WHERE id = $1 AND approval_status = $5`
	return r.transition(ctx, query, id, models.ApprovalRejected, reason, at, models.ApprovalPending)
}

func (r *GradeRepository) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition grade: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check grade transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Update writes editable fields. Rejected grades are never matched.
func (r *GradeRepository) Update(ctx context.Context, grade *models.Grade) error {
	grade.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET course_code = $2, course_name = $3, grade = $4, score = $5, credit_hours = $6, semester = $7,
        academic_year = $8, updated_at = $9, published = $11
        WHERE id = $1 AND approval_status <> $10`
	return r.transition(ctx, query, grade.ID, grade.CourseCode, grade.CourseName, grade.Grade, grade.Score, grade.CreditHours,
		grade.Semester, grade.AcademicYear, grade.UpdatedAt, models.ApprovalRejected, grade.Published)
}

// ListByStudent returns a student's grades, newest first. publishedOnly hides pending and rejected rows.
func (r *GradeRepository) ListByStudent(ctx context.Context, studentID string, publishedOnly bool) ([]models.GradeView, error) {
	query := gradeViewSelect + gradeViewFrom + " WHERE g.student_id = $1"
	if publishedOnly {
		query += " AND g.published = TRUE AND g.approval_status = 'published'"
	}
	query += " ORDER BY g.academic_year DESC, g.semester DESC, g.course_code ASC"

	var grades []models.GradeView
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &grades, query, studentID); err != nil {
		return nil, fmt.Errorf("list student grades: %w", err)
	}
	return grades, nil
}

// ListPublished returns published grades for one student, or for every student when studentID is empty.
func (r *GradeRepository) ListPublished(ctx context.Context, studentID string) ([]models.Grade, error) {
	query := "SELECT " + gradeColumns + " FROM grades g WHERE g.published = TRUE AND g.approval_status = 'published'"
	args := []interface{}{}
	if studentID != "" {
		query += " AND g.student_id = $1"
		args = append(args, studentID)
	}
	query += " ORDER BY g.student_id, g.id"

	var grades []models.Grade
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, fmt.Errorf("list published grades: %w", err)
	}
	return grades, nil
}

// ListPending returns the approval queue, oldest submission first.
func (r *GradeRepository) ListPending(ctx context.Context, filter models.PendingGradeFilter) ([]models.GradeView, int, error) {
	args := []interface{}{models.ApprovalPending}
	conditions := []string{"g.approval_status = $1"}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("g.student_id = $%d", len(args)))
	}
	if filter.CourseCode != "" {
		args = append(args, filter.CourseCode)
		conditions = append(conditions, fmt.Sprintf("g.course_code = $%d", len(args)))
	}
	if filter.UploadedBy != "" {
		args = append(args, filter.UploadedBy)
		conditions = append(conditions, fmt.Sprintf("g.uploaded_by = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	q := database.Conn(ctx, r.db)
	var grades []models.GradeView
	query := fmt.Sprintf("%s%s%s ORDER BY g.submitted_date ASC LIMIT %d OFFSET %d", gradeViewSelect, gradeViewFrom, where, size, offset(page, size))
	if err := q.SelectContext(ctx, &grades, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list pending grades: %w", err)
	}
	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM grades g"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count pending grades: %w", err)
	}
	return grades, total, nil
}

// DeleteByStudent removes every grade of studentID.
func (r *GradeRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM grades WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete student grades: %w", err)
	}
	return nil
}
