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

const (
	linkColumns = "l.id, l.parent_id, l.student_id, l.status, l.request_date, l.approved_date, l.rejected_date, l.linked_by, l.created_at, l.updated_at"

	// linkStudentUnique backs the one-family-per-student rule.
	linkStudentUnique = "parent_student_links_student_id_key"
)

// LinkRepository manages parent-student links.
type LinkRepository struct {
	db *sqlx.DB
}

// NewLinkRepository constructs a LinkRepository.
func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// LockStudent takes a transaction-scoped advisory lock on the student id.
// It must be called inside a transaction.
func (r *LinkRepository) LockStudent(ctx context.Context, studentID string) error {
	if !database.InTx(ctx) {
		return fmt.Errorf("lock student links: no transaction in context")
	}
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "link:"+studentID); err != nil {
		return fmt.Errorf("lock student links: %w", err)
	}
	return nil
}

// Create inserts a link. A second link for the same student yields ErrUniqueViolation.
func (r *LinkRepository) Create(ctx context.Context, link *models.ParentStudentLink) error {
	now := time.Now().UTC()
	if link.RequestDate.IsZero() {
		link.RequestDate = now
	}
	link.CreatedAt = now
	link.UpdatedAt = now
	const query = `INSERT INTO parent_student_links (parent_id, student_id, status, request_date, linked_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query,
		link.ParentID, link.StudentID, link.Status, link.RequestDate, link.LinkedBy, link.CreatedAt, link.UpdatedAt,
	).Scan(&link.ID)
	if err != nil {
		return fmt.Errorf("create link: %w", uniqueViolation(err, linkStudentUnique))
	}
	return nil
}

// FindByID returns the link or sql.ErrNoRows.
func (r *LinkRepository) FindByID(ctx context.Context, id int64) (*models.ParentStudentLink, error) {
	var link models.ParentStudentLink
	if err := database.Conn(ctx, r.db).GetContext(ctx, &link, "SELECT "+linkColumns+" FROM parent_student_links l WHERE l.id = $1", id); err != nil {
		return nil, err
	}
	return &link, nil
}

// FindByStudent returns every link for the student regardless of status.
func (r *LinkRepository) FindByStudent(ctx context.Context, studentID string) ([]models.ParentStudentLink, error) {
	var links []models.ParentStudentLink
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &links,
		"SELECT "+linkColumns+" FROM parent_student_links l WHERE l.student_id = $1 ORDER BY l.id", studentID); err != nil {
		return nil, fmt.Errorf("find links by student: %w", err)
	}
	return links, nil
}

// ExistsForPair reports whether parentID already holds a link to studentID.
func (r *LinkRepository) ExistsForPair(ctx context.Context, parentID int64, studentID string) (bool, error) {
	var exists int
	err := database.Conn(ctx, r.db).GetContext(ctx, &exists,
		"SELECT 1 FROM parent_student_links WHERE parent_id = $1 AND student_id = $2 LIMIT 1", parentID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check link pair: %w", err)
	}
	return true, nil
}

// HasApprovedLink reports whether parentID is an approved guardian of studentID.
func (r *LinkRepository) HasApprovedLink(ctx context.Context, parentID int64, studentID string) (bool, error) {
	var exists int
	err := database.Conn(ctx, r.db).GetContext(ctx, &exists,
		"SELECT 1 FROM parent_student_links WHERE parent_id = $1 AND student_id = $2 AND status = $3 LIMIT 1",
		parentID, studentID, models.LinkApproved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check approved link: %w", err)
	}
	return true, nil
}

// Resolve moves a pending link to status. Returns sql.ErrNoRows when the link is missing or not pending.
func (r *LinkRepository) Resolve(ctx context.Context, id int64, status models.LinkStatus, linkedBy string, at time.Time) (*models.ParentStudentLink, error) {
	var query string
	args := []interface{}{id, status, at, models.LinkPending}
	switch status {
	case models.LinkApproved:
		query = `UPDATE parent_student_links l SET status = $2, approved_date = $3, linked_by = $5, updated_at = $3
            WHERE l.id = $1 AND l.status = $4 RETURNING ` + linkColumns
		args = append(args, linkedBy)
	case models.LinkRejected:
		query = `UPDATE parent_student_links l SET status = $2, rejected_date = $3, updated_at = $3
            WHERE l.id = $1 AND l.status = $4 RETURNING ` + linkColumns
	default:
		return nil, fmt.Errorf("resolve link: unsupported status %q", status)
	}

	var link models.ParentStudentLink
	if err := database.Conn(ctx, r.db).GetContext(ctx, &link, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve link: %w", err)
	}
	return &link, nil
}

// DeleteOrphansByStudent removes links for studentID whose parent row no longer exists.
func (r *LinkRepository) DeleteOrphansByStudent(ctx context.Context, studentID string) (int64, error) {
	return r.deleteOrphans(ctx, "l.student_id = $1", studentID)
}

// DeleteOrphansByParent removes links owned by parentID when that parent row no longer exists.
func (r *LinkRepository) DeleteOrphansByParent(ctx context.Context, parentID int64) (int64, error) {
	return r.deleteOrphans(ctx, "l.parent_id = $1", parentID)
}

func (r *LinkRepository) deleteOrphans(ctx context.Context, condition string, arg interface{}) (int64, error) {
	query := "DELETE FROM parent_student_links l WHERE " + condition +
		" AND NOT EXISTS (SELECT 1 FROM parents p WHERE p.id = l.parent_id)"
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("delete orphan links: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check orphan link rows: %w", err)
	}
	return rows, nil
}

// DeleteByParent removes every link owned by parentID.
func (r *LinkRepository) DeleteByParent(ctx context.Context, parentID int64) (int64, error) {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM parent_student_links WHERE parent_id = $1", parentID)
	if err != nil {
		return 0, fmt.Errorf("delete parent links: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check parent link rows: %w", err)
	}
	return rows, nil
}

// DeleteByStudent removes every link for studentID.
func (r *LinkRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, "DELETE FROM parent_student_links WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete student links: %w", err)
	}
	return nil
}

// ApprovedGuardians returns the parents holding an approved link to studentID.
func (r *LinkRepository) ApprovedGuardians(ctx context.Context, studentID string) ([]models.Guardian, error) {
	query := "SELECT " + parentColumns + `, l.id AS link_id
        FROM parent_student_links l
        JOIN parents p ON p.id = l.parent_id
        WHERE l.student_id = $1 AND l.status = $2
        ORDER BY l.id`
	var guardians []models.Guardian
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &guardians, query, studentID, models.LinkApproved); err != nil {
		return nil, fmt.Errorf("list approved guardians: %w", err)
	}
	return guardians, nil
}

// List returns links for the admin console with parent and student names.
func (r *LinkRepository) List(ctx context.Context, filter models.LinkFilter) ([]models.LinkDetail, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("l.status = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("l.student_id = $%d", len(args)))
	}
	if filter.ParentID > 0 {
		args = append(args, filter.ParentID)
		conditions = append(conditions, fmt.Sprintf("l.parent_id = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")
	page, size := models.NormalizePage(filter.Page, filter.PageSize)

	base := `FROM parent_student_links l
        LEFT JOIN parents p ON p.id = l.parent_id
        LEFT JOIN students s ON s.student_id = l.student_id
        WHERE ` + where
	query := fmt.Sprintf("SELECT %s, p.full_name AS parent_name, p.email AS parent_email, s.full_name AS student_name %s ORDER BY l.request_date DESC LIMIT %d OFFSET %d",
		linkColumns, base, size, offset(page, size))

	q := database.Conn(ctx, r.db)
	var links []models.LinkDetail
	if err := q.SelectContext(ctx, &links, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list links: %w", err)
	}
	var total int
	if err := q.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count links: %w", err)
	}
	return links, total, nil
}
