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

const parentColumns = "p.id, p.full_name, p.email, p.phone, p.password_hash, p.relationship, p.notification_preference, p.status, p.student_id, p.created_at, p.updated_at"

// ParentRepository manages guardian accounts.
type ParentRepository struct {
	db *sqlx.DB
}

// NewParentRepository constructs a ParentRepository.
func NewParentRepository(db *sqlx.DB) *ParentRepository {
	return &ParentRepository{db: db}
}

// FindByID returns the parent or sql.ErrNoRows.
func (r *ParentRepository) FindByID(ctx context.Context, id int64) (*models.Parent, error) {
	var parent models.Parent
	if err := database.Conn(ctx, r.db).GetContext(ctx, &parent, "SELECT "+parentColumns+" FROM parents p WHERE p.id = $1", id); err != nil {
		return nil, err
	}
	return &parent, nil
}

// ExistsByEmail reports whether a parent already registered with email (case-insensitive).
func (r *ParentRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists int
	err := database.Conn(ctx, r.db).GetContext(ctx, &exists, "SELECT 1 FROM parents WHERE LOWER(email) = $1 LIMIT 1", strings.ToLower(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check parent email: %w", err)
	}
	return true, nil
}

// Create inserts the parent and sets its id.
func (r *ParentRepository) Create(ctx context.Context, parent *models.Parent) error {
	now := time.Now().UTC()
	parent.CreatedAt = now
	parent.UpdatedAt = now
	const query = `INSERT INTO parents (full_name, email, phone, password_hash, relationship, notification_preference, status, student_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		parent.FullName, parent.Email, parent.Phone, parent.PasswordHash, parent.Relationship,
		parent.NotificationPreference, parent.Status, parent.StudentID, parent.CreatedAt, parent.UpdatedAt,
	).Scan(&parent.ID)
	if err != nil {
		return fmt.Errorf("create parent: %w", uniqueViolation(err, ""))
	}
	return nil
}

// UpdateStatus sets the parent status. Returns sql.ErrNoRows when the parent is gone.
func (r *ParentRepository) UpdateStatus(ctx context.Context, id int64, status models.ParentStatus) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx,
		"UPDATE parents SET status = $2, updated_at = $3 WHERE id = $1", id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update parent status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check parent status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the parent row. Returns sql.ErrNoRows when nothing was deleted.
func (r *ParentRepository) Delete(ctx context.Context, id int64) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM parents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete parent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check parent delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
