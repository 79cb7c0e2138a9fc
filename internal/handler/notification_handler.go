package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/internal/service"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
	"github.com/noah-isme/grade-portal/pkg/logger"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, actor *models.JWTClaims, query dto.InboxQuery) ([]models.Notification, *models.Pagination, error)
	UnreadCount(ctx context.Context, actor *models.JWTClaims) (int, error)
	MarkRead(ctx context.Context, actor *models.JWTClaims, id int64) error
	Delete(ctx context.Context, actor *models.JWTClaims, id int64) error
	Send(ctx context.Context, actor *models.JWTClaims, req dto.SendNotificationRequest, upload *service.Upload) (*models.Notification, error)
	OpenAttachment(token string) (io.ReadCloser, string, error)
}

// NotificationHandler exposes student and guardian inboxes.
type NotificationHandler struct {
	notifications notificationService
	logger        *zap.Logger
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(notifications notificationService, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{notifications: notifications, logger: logger}
}

// List godoc
// @Summary List inbox notifications
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	var query dto.InboxQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	items, pagination, err := h.notifications.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// UnreadCount godoc
// @Summary Count unread notifications
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.UnreadCountResponse{Count: count}, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Param id path int true "Notification ID"
// @Success 204
// @Router /notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), claimsFromContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete a notification
// @Description Grade, alert and account notifications cannot be deleted.
// @Tags Notifications
// @Param id path int true "Notification ID"
// @Success 204
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), claimsFromContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Send godoc
// @Summary Send a notice to one student or parent
// @Tags Notifications
// @Accept multipart/form-data
// @Produce json
// @Param studentId formData string false "Student recipient"
// @Param parentId formData int false "Parent recipient"
// @Param type formData string false "general or warning"
// @Param title formData string true "Title"
// @Param message formData string true "Message"
// @Param file formData file false "Attachment"
// @Success 201 {object} response.Envelope
// @Router /notifications [post]
func (h *NotificationHandler) Send(c *gin.Context) {
	var req dto.SendNotificationRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}

	var upload *service.Upload
	header, err := c.FormFile("file")
	switch {
	case err == nil:
		file, openErr := header.Open()
		if openErr != nil {
			response.Error(c, appErrors.Wrap(openErr, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable attachment"))
			return
		}
		defer file.Close()
		upload = &service.Upload{Name: header.Filename, Reader: file}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid multipart payload"))
		return
	}

	n, err := h.notifications.Send(c.Request.Context(), claimsFromContext(c), req, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, n)
}

// Download godoc
// @Summary Download a notification attachment
// @Description The token comes from the signed attachmentUrl of a notification.
// @Tags Notifications
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} file
// @Router /files/{token} [get]
func (h *NotificationHandler) Download(c *gin.Context) {
	file, ref, err := h.notifications.OpenAttachment(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(ref))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", path.Base(ref)),
		"Cache-Control":       "private, no-store",
	}
	c.DataFromReader(http.StatusOK, -1, contentType, file, headers)
	logger.WithRequest(h.logger, c).Debug("attachment served", zap.String("ref", ref))
}
