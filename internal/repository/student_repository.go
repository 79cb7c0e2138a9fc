package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
)

const studentColumns = "s.id, s.student_id, s.full_name, s.email, s.phone, s.department, s.year, s.semester, s.created_at, s.updated_at"

// StudentRepository manages persistence for student records and the official ID allow-list.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}

	if filter.Department != "" {
		args = append(args, filter.Department)
		conditions = append(conditions, fmt.Sprintf("s.department = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("s.year = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.student_id) LIKE $%d)", len(args), len(args)))
	}
	where := strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM students s WHERE %s ORDER BY s.student_id ASC LIMIT %d OFFSET %d", studentColumns, where, size, offset(page, size))
	q := database.Conn(ctx, r.db)

	var students []models.Student
	if err := q.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM students s WHERE "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByStudentID fetches a student by enrollment number.
func (r *StudentRepository) FindByStudentID(ctx context.Context, studentID string) (*models.Student, error) {
	var student models.Student
	query := "SELECT " + studentColumns + " FROM students s WHERE s.student_id = $1"
	if err := database.Conn(ctx, r.db).GetContext(ctx, &student, query, studentID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByStudentID reports whether the enrollment number is registered.
func (r *StudentRepository) ExistsByStudentID(ctx context.Context, studentID string) (bool, error) {
	var exists int
	err := database.Conn(ctx, r.db).GetContext(ctx, &exists, "SELECT 1 FROM students WHERE student_id = $1 LIMIT 1", studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check student: %w", err)
	}
	return true, nil
}

// Create inserts a student. A duplicate enrollment number yields ErrUniqueViolation.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (student_id, full_name, email, phone, department, year, semester, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		student.StudentID, student.FullName, student.Email, student.Phone, student.Department,
		student.Year, student.Semester, student.CreatedAt, student.UpdatedAt,
	).Scan(&student.ID)
	if err != nil {
		return fmt.Errorf("create student: %w", uniqueViolation(err, ""))
	}
	return nil
}

// DeleteByStudentID removes the student row. Returns sql.ErrNoRows when nothing was deleted.
func (r *StudentRepository) DeleteByStudentID(ctx context.Context, studentID string) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM students WHERE student_id = $1", studentID)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check student delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkOfficialIDUsed flags the allow-list entry. It reports false when no entry exists.
func (r *StudentRepository) MarkOfficialIDUsed(ctx context.Context, studentID string) (bool, error) {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		"UPDATE official_ids SET is_used = TRUE, used_at = $2 WHERE student_id = $1", studentID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark official id used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check official id rows: %w", err)
	}
	return rows > 0, nil
}

// ResetOfficialID returns the allow-list entry to unused.
func (r *StudentRepository) ResetOfficialID(ctx context.Context, studentID string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx,
		"UPDATE official_ids SET is_used = FALSE, used_at = NULL WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("reset official id: %w", err)
	}
	return nil
}
