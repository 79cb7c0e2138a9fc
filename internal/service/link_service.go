package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/internal/repository"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type linkRepository interface {
	LockStudent(ctx context.Context, studentID string) error
	Create(ctx context.Context, link *models.ParentStudentLink) error
	FindByID(ctx context.Context, id int64) (*models.ParentStudentLink, error)
	FindByStudent(ctx context.Context, studentID string) ([]models.ParentStudentLink, error)
	ExistsForPair(ctx context.Context, parentID int64, studentID string) (bool, error)
	Resolve(ctx context.Context, id int64, status models.LinkStatus, linkedBy string, at time.Time) (*models.ParentStudentLink, error)
	DeleteOrphansByStudent(ctx context.Context, studentID string) (int64, error)
	DeleteOrphansByParent(ctx context.Context, parentID int64) (int64, error)
	DeleteByParent(ctx context.Context, parentID int64) (int64, error)
	List(ctx context.Context, filter models.LinkFilter) ([]models.LinkDetail, int, error)
}

type parentRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Parent, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, parent *models.Parent) error
	UpdateStatus(ctx context.Context, id int64, status models.ParentStatus) error
	Delete(ctx context.Context, id int64) error
}

type accountNotifier interface {
	NotifyAccountApproved(ctx context.Context, parent *models.Parent, studentID string)
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

var errOrphanLink = errors.New("link parent no longer exists")

const msgAnotherFamily = "student is already linked to another family"

// LinkService governs guardian registration and the parent-student link lifecycle.
type LinkService struct {
	tx        txRunner
	links     linkRepository
	parents   parentRepository
	students  studentReader
	notifier  accountNotifier
	hasher    passwordHasher
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewLinkService constructs the link service.
func NewLinkService(tx txRunner, links linkRepository, parents parentRepository, students studentReader, notifier accountNotifier,
	hasher passwordHasher, validate *validator.Validate, logger *zap.Logger) *LinkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{
		tx:        tx,
		links:     links,
		parents:   parents,
		students:  students,
		notifier:  notifier,
		hasher:    hasher,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RegisterParent creates a pending guardian account together with its pending link.
// An orphaned link blocking the student is removed first.
func (s *LinkService) RegisterParent(ctx context.Context, req dto.RegisterParentRequest) (*dto.RegisterParentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid password")
	}

	studentID := strings.TrimSpace(req.StudentID)
	preference := models.NotificationPreference(req.NotificationPreference)
	if preference == "" {
		preference = models.PreferEmail
	}
	parent := &models.Parent{
		FullName:               strings.TrimSpace(req.FullName),
		Email:                  strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:           hash,
		Relationship:           req.Relationship,
		NotificationPreference: preference,
		Status:                 models.ParentPending,
		StudentID:              studentID,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		parent.Phone = &phone
	}
	link := &models.ParentStudentLink{StudentID: studentID, Status: models.LinkPending, LinkedBy: models.LinkedBySystem}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.requireStudent(ctx, studentID); err != nil {
			return err
		}
		if err := s.claimStudent(ctx, studentID); err != nil {
			return err
		}
		exists, err := s.parents.ExistsByEmail(ctx, parent.Email)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		if err := s.parents.Create(ctx, parent); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return appErrors.Clone(appErrors.ErrConflict, "email already registered")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create parent")
		}
		link.ParentID = parent.ID
		return s.createLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("parent registered", zap.Int64("parent_id", parent.ID), zap.String("student_id", studentID), zap.Int64("link_id", link.ID))
	return &dto.RegisterParentResponse{Parent: parent, Link: link}, nil
}

// RequestLink asks for a pending link between the calling parent and another student.
func (s *LinkService) RequestLink(ctx context.Context, actor *models.JWTClaims, req dto.RequestLinkRequest) (*models.ParentStudentLink, error) {
	parentID, err := actor.ParentID()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only parents may request links")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link request")
	}
	studentID := strings.TrimSpace(req.StudentID)
	link := &models.ParentStudentLink{ParentID: parentID, StudentID: studentID, Status: models.LinkPending, LinkedBy: models.LinkedBySystem}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.parents.FindByID(ctx, parentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "parent account not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
		}
		if err := s.requireStudent(ctx, studentID); err != nil {
			return err
		}
		if err := s.links.LockStudent(ctx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student links")
		}
		exists, err := s.links.ExistsForPair(ctx, parentID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check link")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "link already requested")
		}
		if err := s.cleanStudentOrphans(ctx, studentID); err != nil {
			return err
		}
		if err := s.ensureNoLink(ctx, studentID); err != nil {
			return err
		}
		return s.createLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("link requested", zap.Int64("link_id", link.ID), zap.Int64("parent_id", parentID), zap.String("student_id", studentID))
	return link, nil
}

// ApproveLink approves a pending link, approves its parent and sends the one-time account approved notice.
// A link whose parent has vanished is removed and reported as not found.
func (s *LinkService) ApproveLink(ctx context.Context, actor *models.JWTClaims, id int64) (*models.ParentStudentLink, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may approve links")
	}
	var (
		link   *models.ParentStudentLink
		parent *models.Parent
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.loadPendingLink(ctx, id)
		if err != nil {
			return err
		}
		link = current
		parent, err = s.parents.FindByID(ctx, current.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errOrphanLink
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
		}
		link, err = s.links.Resolve(ctx, id, models.LinkApproved, actor.UserID, s.now())
		if err != nil {
			return s.linkTransitionError(err, "failed to approve link")
		}
		if err := s.parents.UpdateStatus(ctx, parent.ID, models.ParentApproved); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve parent")
		}
		parent.Status = models.ParentApproved
		if s.notifier != nil {
			s.notifier.NotifyAccountApproved(ctx, parent, link.StudentID)
		}
		return nil
	})
	if errors.Is(err, errOrphanLink) {
		s.removeOrphans(ctx, link.ParentID)
		return nil, appErrors.Clone(appErrors.ErrNotFound, "parent account no longer exists; the orphaned link was removed")
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("link approved", zap.Int64("link_id", id), zap.Int64("parent_id", link.ParentID), zap.String("approved_by", actor.UserID))
	return link, nil
}

// RejectLink rejects a pending link. The parent's status is left unchanged.
func (s *LinkService) RejectLink(ctx context.Context, actor *models.JWTClaims, id int64) (*models.ParentStudentLink, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may reject links")
	}
	var link *models.ParentStudentLink
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.loadPendingLink(ctx, id); err != nil {
			return err
		}
		var err error
		link, err = s.links.Resolve(ctx, id, models.LinkRejected, actor.UserID, s.now())
		if err != nil {
			return s.linkTransitionError(err, "failed to reject link")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("link rejected", zap.Int64("link_id", id), zap.String("rejected_by", actor.UserID))
	return link, nil
}

// ResolveOrphan deletes links of the student, or of the parent, whose parent row no longer exists.
func (s *LinkService) ResolveOrphan(ctx context.Context, studentID string, parentID int64) (*dto.RepairResult, error) {
	var (
		removed int64
		err     error
	)
	switch {
	case studentID != "":
		removed, err = s.links.DeleteOrphansByStudent(ctx, studentID)
	case parentID > 0:
		removed, err = s.links.DeleteOrphansByParent(ctx, parentID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId or parentId is required")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve orphan links")
	}
	if removed > 0 {
		s.logger.Info("orphan links removed", zap.String("student_id", studentID), zap.Int64("parent_id", parentID), zap.Int64("removed", removed))
	}
	return &dto.RepairResult{Cleaned: removed > 0, Removed: removed}, nil
}

// RepairOrphans is the admin entry point of ResolveOrphan.
func (s *LinkService) RepairOrphans(ctx context.Context, actor *models.JWTClaims, req dto.RepairOrphansRequest) (*dto.RepairResult, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may repair links")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid repair request")
	}
	return s.ResolveOrphan(ctx, strings.TrimSpace(req.StudentID), req.ParentID)
}

// DeleteParent removes every link of the parent and then the parent row.
func (s *LinkService) DeleteParent(ctx context.Context, actor *models.JWTClaims, parentID int64) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may delete parents")
	}
	err := s.deleteParent(ctx, parentID)
	if errors.Is(err, errOrphanLink) {
		s.removeOrphans(ctx, parentID)
		return appErrors.Clone(appErrors.ErrNotFound, "parent not found")
	}
	return err
}

// DeleteLink unlinks a family. Unlinking removes the owning parent together with all of its links.
func (s *LinkService) DeleteLink(ctx context.Context, actor *models.JWTClaims, linkID int64) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may delete links")
	}
	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "link not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load link")
	}
	err = s.deleteParent(ctx, link.ParentID)
	if errors.Is(err, errOrphanLink) {
		s.removeOrphans(ctx, link.ParentID)
		return nil
	}
	return err
}

func (s *LinkService) deleteParent(ctx context.Context, parentID int64) error {
	var removed int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.parents.FindByID(ctx, parentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errOrphanLink
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent")
		}
		var err error
		// Links go first so an interrupted delete leaves a self-healing orphan, never a dangling parent.
		removed, err = s.links.DeleteByParent(ctx, parentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete parent links")
		}
		if err := s.parents.Delete(ctx, parentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "parent not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete parent")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("parent deleted", zap.Int64("parent_id", parentID), zap.Int64("links_removed", removed))
	return nil
}

// ListLinks returns links for the admin console.
func (s *LinkService) ListLinks(ctx context.Context, filter models.LinkFilter) ([]models.LinkDetail, *models.Pagination, error) {
	switch filter.Status {
	case "", models.LinkPending, models.LinkApproved, models.LinkRejected:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be pending, approved or rejected")
	}
	links, total, err := s.links.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list links")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return links, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *LinkService) requireStudent(ctx context.Context, studentID string) error {
	if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return nil
}

// claimStudent locks the student's links, heals orphans and fails when a live link remains.
func (s *LinkService) claimStudent(ctx context.Context, studentID string) error {
	if err := s.links.LockStudent(ctx, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock student links")
	}
	if err := s.cleanStudentOrphans(ctx, studentID); err != nil {
		return err
	}
	return s.ensureNoLink(ctx, studentID)
}

func (s *LinkService) cleanStudentOrphans(ctx context.Context, studentID string) error {
	removed, err := s.links.DeleteOrphansByStudent(ctx, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve orphan links")
	}
	if removed > 0 {
		s.logger.Info("orphan links removed", zap.String("student_id", studentID), zap.Int64("removed", removed))
	}
	return nil
}

func (s *LinkService) ensureNoLink(ctx context.Context, studentID string) error {
	existing, err := s.links.FindByStudent(ctx, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student links")
	}
	if len(existing) > 0 {
		return appErrors.Clone(appErrors.ErrConflict, msgAnotherFamily)
	}
	return nil
}

func (s *LinkService) createLink(ctx context.Context, link *models.ParentStudentLink) error {
	link.RequestDate = s.now()
	if err := s.links.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return appErrors.Clone(appErrors.ErrConflict, msgAnotherFamily)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create link")
	}
	return nil
}

func (s *LinkService) loadPendingLink(ctx context.Context, id int64) (*models.ParentStudentLink, error) {
	link, err := s.links.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "link not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load link")
	}
	if link.Status != models.LinkPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "link is already "+string(link.Status))
	}
	return link, nil
}

func (s *LinkService) linkTransitionError(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrConflict, "link changed state concurrently")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// removeOrphans heals links left behind by a vanished parent. Failures are only logged.
func (s *LinkService) removeOrphans(ctx context.Context, parentID int64) {
	removed, err := s.links.DeleteOrphansByParent(ctx, parentID)
	if err != nil {
		s.logger.Warn("orphan cleanup failed", zap.Int64("parent_id", parentID), zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("orphan links removed", zap.Int64("parent_id", parentID), zap.Int64("removed", removed))
	}
}
