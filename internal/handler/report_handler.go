package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/internal/service"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type transcriptService interface {
	Transcript(ctx context.Context, principal *models.JWTClaims, studentID, format string) (*service.Transcript, error)
}

// ReportHandler exposes transcript exports.
type ReportHandler struct {
	reports transcriptService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports transcriptService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Transcript godoc
// @Summary Download a transcript of published grades
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param studentId path string true "Student ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /students/{studentId}/transcript [get]
func (h *ReportHandler) Transcript(c *gin.Context) {
	transcript, err := h.reports.Transcript(c.Request.Context(), claimsFromContext(c), c.Param("studentId"), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, transcript.Filename, transcript.ContentType, transcript.Body)
}
