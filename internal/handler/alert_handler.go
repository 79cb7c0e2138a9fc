package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type alertService interface {
	CheckGrades(ctx context.Context, actor *models.JWTClaims, req dto.CheckGradesRequest) (*dto.CheckGradesResult, error)
	ListAlerts(ctx context.Context, actor *models.JWTClaims, query dto.InboxQuery) ([]models.Alert, *models.Pagination, error)
	MarkAlertRead(ctx context.Context, actor *models.JWTClaims, id int64) error
}

// AlertHandler exposes guardian alerts.
type AlertHandler struct {
	alerts alertService
}

// NewAlertHandler constructs AlertHandler.
func NewAlertHandler(alerts alertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// List godoc
// @Summary List the guardian's alerts
// @Tags Alerts
// @Produce json
// @Param unread query bool false "Only unread"
// @Param studentId query string false "Student"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	var query dto.InboxQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	alerts, pagination, err := h.alerts.ListAlerts(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, pagination)
}

// MarkRead godoc
// @Summary Mark an alert read
// @Tags Alerts
// @Param id path int true "Alert ID"
// @Success 204
// @Router /alerts/{id}/read [patch]
func (h *AlertHandler) MarkRead(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.alerts.MarkAlertRead(c.Request.Context(), claimsFromContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckGrades godoc
// @Summary Create missing alerts for published failing and low grades
// @Tags Alerts
// @Accept json
// @Produce json
// @Param payload body dto.CheckGradesRequest false "Optional student scope"
// @Success 200 {object} response.Envelope
// @Router /grades/check [post]
func (h *AlertHandler) CheckGrades(c *gin.Context) {
	var req dto.CheckGradesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err))
			return
		}
	}
	result, err := h.alerts.CheckGrades(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
