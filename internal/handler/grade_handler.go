package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type gradeService interface {
	SubmitGrade(ctx context.Context, actor *models.JWTClaims, req dto.SubmitGradeRequest) (*models.GradeView, error)
	SubmitBulk(ctx context.Context, actor *models.JWTClaims, req dto.SubmitBulkRequest) (*dto.BulkResult, error)
	UpdateGrade(ctx context.Context, actor *models.JWTClaims, id int64, req dto.UpdateGradeRequest) (*models.GradeView, error)
	ApproveGrade(ctx context.Context, actor *models.JWTClaims, id int64) (*models.GradeView, error)
	RejectGrade(ctx context.Context, actor *models.JWTClaims, id int64, req dto.RejectGradeRequest) (*models.GradeView, error)
	ApproveBulk(ctx context.Context, actor *models.JWTClaims, req dto.ApproveBulkRequest) (*dto.BulkResult, error)
	ListPending(ctx context.Context, filter models.PendingGradeFilter) ([]models.GradeView, *models.Pagination, error)
	ListStudentGrades(ctx context.Context, principal *models.JWTClaims, studentID string) ([]models.GradeView, error)
}

// GradeHandler exposes grade entry and the approval workflow.
type GradeHandler struct {
	grades gradeService
}

// NewGradeHandler constructs GradeHandler.
func NewGradeHandler(grades gradeService) *GradeHandler {
	return &GradeHandler{grades: grades}
}

// Submit godoc
// @Summary Submit a grade
// @Description Teacher grades wait for approval; admin grades publish immediately unless status is draft.
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.SubmitGradeRequest true "Grade payload"
// @Success 201 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) Submit(c *gin.Context) {
	var req dto.SubmitGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	grade, err := h.grades.SubmitGrade(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grade)
}

// SubmitBulk godoc
// @Summary Submit several grades
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.SubmitBulkRequest true "Grades"
// @Success 200 {object} response.Envelope
// @Router /grades/bulk [post]
func (h *GradeHandler) SubmitBulk(c *gin.Context) {
	var req dto.SubmitBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.grades.SubmitBulk(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Update godoc
// @Summary Edit a grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path int true "Grade ID"
// @Param payload body dto.UpdateGradeRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Router /grades/{id} [put]
func (h *GradeHandler) Update(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.UpdateGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	grade, err := h.grades.UpdateGrade(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Pending godoc
// @Summary List grades awaiting approval
// @Tags Grades
// @Produce json
// @Param studentId query string false "Student"
// @Param courseCode query string false "Course"
// @Param uploadedBy query string false "Teacher"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /grades/pending [get]
func (h *GradeHandler) Pending(c *gin.Context) {
	var query dto.PendingGradesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	grades, pagination, err := h.grades.ListPending(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, pagination)
}

// Approve godoc
// @Summary Approve a pending grade
// @Tags Grades
// @Produce json
// @Param id path int true "Grade ID"
// @Success 200 {object} response.Envelope
// @Router /grades/{id}/approve [post]
func (h *GradeHandler) Approve(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	grade, err := h.grades.ApproveGrade(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// Reject godoc
// @Summary Reject a pending grade
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path int true "Grade ID"
// @Param payload body dto.RejectGradeRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /grades/{id}/reject [post]
func (h *GradeHandler) Reject(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RejectGradeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err))
			return
		}
	}
	grade, err := h.grades.RejectGrade(c.Request.Context(), claimsFromContext(c), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grade, nil)
}

// ApproveBulk godoc
// @Summary Approve several pending grades
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.ApproveBulkRequest true "Grade ids"
// @Success 200 {object} response.Envelope
// @Router /grades/approve-bulk [post]
func (h *GradeHandler) ApproveBulk(c *gin.Context) {
	var req dto.ApproveBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.grades.ApproveBulk(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// StudentGrades godoc
// @Summary List a student's grades
// @Description Students and approved guardians see published grades; staff see every state.
// @Tags Grades
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/grades [get]
func (h *GradeHandler) StudentGrades(c *gin.Context) {
	grades, err := h.grades.ListStudentGrades(c.Request.Context(), claimsFromContext(c), c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}
