package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
)

const alertColumns = "id, student_id, parent_id, grade_id, course_code, type, severity, title, message, is_read, sent_via, created_at"

// AlertRepository persists guardian grade alerts.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository constructs an AlertRepository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts an alert and sets its id and timestamp.
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	const query = `INSERT INTO alerts (student_id, parent_id, grade_id, course_code, type, severity, title, message, is_read, sent_via)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		alert.StudentID, alert.ParentID, alert.GradeID, alert.CourseCode, alert.Type, alert.Severity,
		alert.Title, alert.Message, alert.IsRead, alert.SentVia,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// Exists reports whether the guardian already holds an alert of alertType for the grade.
func (r *AlertRepository) Exists(ctx context.Context, gradeID, parentID int64, alertType models.AlertType) (bool, error) {
	var exists int
	err := database.Conn(ctx, r.db).GetContext(ctx, &exists,
		"SELECT 1 FROM alerts WHERE grade_id = $1 AND parent_id = $2 AND type = $3 LIMIT 1", gradeID, parentID, alertType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check alert: %w", err)
	}
	return true, nil
}

// ListByParent returns a guardian's alerts, newest first.
func (r *AlertRepository) ListByParent(ctx context.Context, filter models.AlertFilter) ([]models.Alert, int, error) {
	where := "WHERE parent_id = $1"
	args := []interface{}{filter.ParentID}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if filter.UnreadOnly {
		where += " AND is_read = FALSE"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	q := database.Conn(ctx, r.db)
	var alerts []models.Alert
	query := fmt.Sprintf("SELECT %s FROM alerts %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", alertColumns, where, size, offset(page, size))
	if err := q.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM alerts "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	return alerts, total, nil
}

// MarkRead flags the guardian's alert as read. Returns sql.ErrNoRows when it does not belong to parentID.
func (r *AlertRepository) MarkRead(ctx context.Context, id, parentID int64) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, "UPDATE alerts SET is_read = TRUE WHERE id = $1 AND parent_id = $2", id, parentID)
	if err != nil {
		return fmt.Errorf("mark alert read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check alert read rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteByStudent removes every alert about studentID.
func (r *AlertRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM alerts WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete student alerts: %w", err)
	}
	return nil
}
