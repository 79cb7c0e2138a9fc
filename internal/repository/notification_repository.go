package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
)

const notificationColumns = "id, student_id, parent_id, type, title, message, is_read, attachment_ref, attachment_name, created_by, created_at"

// NotificationRepository persists inbox entries.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification and sets its id and timestamp.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	const query = `INSERT INTO notifications (student_id, parent_id, type, title, message, is_read, attachment_ref, attachment_name, created_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		n.StudentID, n.ParentID, n.Type, n.Title, n.Message, n.IsRead, n.AttachmentRef, n.AttachmentName, n.CreatedBy,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns the notification or sql.ErrNoRows.
func (r *NotificationRepository) FindByID(ctx context.Context, id int64) (*models.Notification, error) {
	var n models.Notification
	if err := database.Conn(ctx, r.db).GetContext(ctx, &n, "SELECT "+notificationColumns+" FROM notifications WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &n, nil
}

func recipientWhere(filter models.NotificationFilter) (string, []interface{}) {
	if filter.StudentID != "" {
		return "WHERE student_id = $1", []interface{}{filter.StudentID}
	}
	return "WHERE parent_id = $1", []interface{}{filter.ParentID}
}

// List returns the recipient's inbox, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where, args := recipientWhere(filter)
	if filter.UnreadOnly {
		where += " AND is_read = FALSE"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	q := database.Conn(ctx, r.db)
	var items []models.Notification
	query := fmt.Sprintf("SELECT %s FROM notifications %s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", notificationColumns, where, size, offset(page, size))
	if err := q.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications "+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread entries for the recipient.
func (r *NotificationRepository) CountUnread(ctx context.Context, filter models.NotificationFilter) (int, error) {
	where, args := recipientWhere(filter)
	var total int
	if err := database.Conn(ctx, r.db).GetContext(ctx, &total, "SELECT COUNT(*) FROM notifications "+where+" AND is_read = FALSE", args...); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return total, nil
}

// MarkRead flags a notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64) error {
	return r.execOne(ctx, "UPDATE notifications SET is_read = TRUE WHERE id = $1", id)
}

// Delete removes a notification.
func (r *NotificationRepository) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, "DELETE FROM notifications WHERE id = $1", id)
}

// DeleteByStudent removes every notification addressed to studentID.
func (r *NotificationRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM notifications WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete student notifications: %w", err)
	}
	return nil
}

func (r *NotificationRepository) execOne(ctx context.Context, query string, id int64) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check notification rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
