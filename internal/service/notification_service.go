package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
	"github.com/noah-isme/grade-portal/pkg/storage"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	FindByID(ctx context.Context, id int64) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, filter models.NotificationFilter) (int, error)
	MarkRead(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

type parentReader interface {
	FindByID(ctx context.Context, id int64) (*models.Parent, error)
}

type attachmentStore interface {
	Save(originalName string, r io.Reader) (*storage.Attachment, error)
	Open(ref string) (io.ReadCloser, error)
	Delete(ref string) error
}

type urlSigner interface {
	Sign(ref string) (string, time.Time, error)
	Verify(token string) (string, error)
}

// Upload is a file received with an admin notification.
type Upload struct {
	Name   string
	Reader io.Reader
}

// NotificationService manages student and guardian inboxes.
type NotificationService struct {
	repo      notificationRepository
	students  studentReader
	parents   parentReader
	files     attachmentStore
	signer    urlSigner
	filesURL  string
	pusher    Pusher
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NotificationServiceConfig carries optional collaborators.
type NotificationServiceConfig struct {
	Files    attachmentStore
	Signer   urlSigner
	FilesURL string
	Pusher   Pusher
	Metrics  *MetricsService
}

// NewNotificationService constructs the inbox service.
func NewNotificationService(repo notificationRepository, students studentReader, parents parentReader, cfg NotificationServiceConfig, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:      repo,
		students:  students,
		parents:   parents,
		files:     cfg.Files,
		signer:    cfg.Signer,
		filesURL:  strings.TrimSuffix(cfg.FilesURL, "/") + "/",
		pusher:    cfg.Pusher,
		metrics:   cfg.Metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns the caller's inbox.
func (s *NotificationService) List(ctx context.Context, actor *models.JWTClaims, query dto.InboxQuery) ([]models.Notification, *models.Pagination, error) {
	filter, err := inboxFilter(actor)
	if err != nil {
		return nil, nil, err
	}
	filter.UnreadOnly = query.UnreadOnly
	filter.Page = query.Page
	filter.PageSize = query.PageSize

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	for i := range items {
		s.decorate(&items[i])
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UnreadCount returns the number of unread entries in the caller's inbox.
func (s *NotificationService) UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error) {
	filter, err := inboxFilter(actor)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountUnread(ctx, filter)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.JWTClaims, id int64) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// Delete removes one of the caller's notifications. Academic warnings cannot be deleted.
func (s *NotificationService) Delete(ctx context.Context, actor *models.JWTClaims, id int64) error {
	n, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if n.Type.Protected() {
		return appErrors.Clone(appErrors.ErrForbidden, "academic warnings cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	if n.AttachmentRef != nil && s.files != nil {
		if err := s.files.Delete(*n.AttachmentRef); err != nil {
			s.logger.Warn("attachment cleanup failed", zap.Int64("notification_id", id), zap.Error(err))
		}
	}
	return nil
}

// Send lets an admin post a notice with an optional attachment to exactly one student or parent.
func (s *NotificationService) Send(ctx context.Context, actor *models.JWTClaims, req dto.SendNotificationRequest, upload *Upload) (*models.Notification, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may send notifications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}
	studentID := strings.TrimSpace(req.StudentID)
	if (studentID == "") == (req.ParentID == 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of studentId or parentId is required")
	}

	n := &models.Notification{
		Type:    models.NotificationType(req.Type),
		Title:   req.Title,
		Message: req.Message,
	}
	if n.Type == "" {
		n.Type = models.NotificationGeneral
	}
	createdBy := actor.UserID
	n.CreatedBy = &createdBy

	if studentID != "" {
		if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
			return nil, lookupError(err, "student not found", "failed to load student")
		}
		n.StudentID = &studentID
	} else {
		if _, err := s.parents.FindByID(ctx, req.ParentID); err != nil {
			return nil, lookupError(err, "parent not found", "failed to load parent")
		}
		parentID := req.ParentID
		n.ParentID = &parentID
	}

	if upload != nil && upload.Reader != nil {
		if s.files == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "attachments are not enabled")
		}
		attachment, err := s.files.Save(upload.Name, upload.Reader)
		if err != nil {
			if errors.Is(err, storage.ErrTooLarge) {
				return nil, appErrors.Clone(appErrors.ErrTooLarge, "attachment exceeds size limit")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
		}
		n.AttachmentRef = &attachment.Ref
		n.AttachmentName = &attachment.OriginalName
	}

	if err := s.repo.Create(ctx, n); err != nil {
		if n.AttachmentRef != nil {
			_ = s.files.Delete(*n.AttachmentRef)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	s.metrics.RecordNotification(n.Type)
	s.decorate(n)
	if s.pusher != nil {
		if err := s.pusher.Publish(ctx, n); err != nil {
			s.logger.Warn("realtime push failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		}
	}
	s.logger.Info("notification sent", zap.Int64("notification_id", n.ID), zap.String("recipient", n.RecipientKey()), zap.String("sent_by", actor.UserID))
	return n, nil
}

// OpenAttachment resolves a signed download token.
func (s *NotificationService) OpenAttachment(token string) (io.ReadCloser, string, error) {
	if s.files == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachments are not enabled")
	}
	ref, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.files.Open(ref)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "attachment not found")
	}
	return file, ref, nil
}

// decorate fills the signed download URL of an attachment.
func (s *NotificationService) decorate(n *models.Notification) {
	if n.AttachmentRef == nil || s.signer == nil {
		return
	}
	token, _, err := s.signer.Sign(*n.AttachmentRef)
	if err != nil {
		s.logger.Warn("sign attachment url failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		return
	}
	n.AttachmentURL = s.filesURL + token
}

func (s *NotificationService) owned(ctx context.Context, actor *models.JWTClaims, id int64) (*models.Notification, error) {
	filter, err := inboxFilter(actor)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "notification not found", "failed to load notification")
	}
	owner := (filter.StudentID != "" && n.StudentID != nil && *n.StudentID == filter.StudentID) ||
		(filter.ParentID != 0 && n.ParentID != nil && *n.ParentID == filter.ParentID)
	if !owner {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return n, nil
}

// inboxFilter scopes an inbox to the calling student or parent.
func inboxFilter(actor *models.JWTClaims) (models.NotificationFilter, error) {
	if actor == nil {
		return models.NotificationFilter{}, appErrors.Clone(appErrors.ErrUnauthorized, "missing principal")
	}
	switch actor.Role {
	case models.RoleStudent:
		return models.NotificationFilter{StudentID: actor.UserID}, nil
	case models.RoleParent:
		parentID, err := actor.ParentID()
		if err != nil {
			return models.NotificationFilter{}, appErrors.Clone(appErrors.ErrForbidden, "invalid parent principal")
		}
		return models.NotificationFilter{ParentID: parentID}, nil
	}
	return models.NotificationFilter{}, appErrors.Clone(appErrors.ErrForbidden, "only students and parents have an inbox")
}

func lookupError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
