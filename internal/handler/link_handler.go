package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/response"
)

type linkService interface {
	RegisterParent(ctx context.Context, req dto.RegisterParentRequest) (*dto.RegisterParentResponse, error)
	RequestLink(ctx context.Context, actor *models.JWTClaims, req dto.RequestLinkRequest) (*models.ParentStudentLink, error)
	ApproveLink(ctx context.Context, actor *models.JWTClaims, id int64) (*models.ParentStudentLink, error)
	RejectLink(ctx context.Context, actor *models.JWTClaims, id int64) (*models.ParentStudentLink, error)
	RepairOrphans(ctx context.Context, actor *models.JWTClaims, req dto.RepairOrphansRequest) (*dto.RepairResult, error)
	DeleteParent(ctx context.Context, actor *models.JWTClaims, parentID int64) error
	DeleteLink(ctx context.Context, actor *models.JWTClaims, linkID int64) error
	ListLinks(ctx context.Context, filter models.LinkFilter) ([]models.LinkDetail, *models.Pagination, error)
}

// LinkHandler exposes guardian registration and link administration.
type LinkHandler struct {
	links linkService
}

// NewLinkHandler constructs LinkHandler.
func NewLinkHandler(links linkService) *LinkHandler {
	return &LinkHandler{links: links}
}

// Register godoc
// @Summary Register a guardian account
// @Description Creates a pending parent and a pending link to the student. Fails when the student already belongs to a family.
// @Tags Parents
// @Accept json
// @Produce json
// @Param payload body dto.RegisterParentRequest true "Registration"
// @Success 201 {object} response.Envelope
// @Router /parents/register [post]
func (h *LinkHandler) Register(c *gin.Context) {
	var req dto.RegisterParentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.links.RegisterParent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// DeleteParent godoc
// @Summary Delete a parent and all of its links
// @Tags Parents
// @Param id path int true "Parent ID"
// @Success 204
// @Router /parents/{id} [delete]
func (h *LinkHandler) DeleteParent(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.links.DeleteParent(c.Request.Context(), claimsFromContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Request godoc
// @Summary Request a link to another student
// @Tags Links
// @Accept json
// @Produce json
// @Param payload body dto.RequestLinkRequest true "Student"
// @Success 201 {object} response.Envelope
// @Router /links [post]
func (h *LinkHandler) Request(c *gin.Context) {
	var req dto.RequestLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	link, err := h.links.RequestLink(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// List godoc
// @Summary List parent-student links
// @Tags Links
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Param studentId query string false "Student"
// @Param parentId query int false "Parent"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /links [get]
func (h *LinkHandler) List(c *gin.Context) {
	var query dto.LinkQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	links, pagination, err := h.links.ListLinks(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, pagination)
}

// Approve godoc
// @Summary Approve a pending link
// @Tags Links
// @Produce json
// @Param id path int true "Link ID"
// @Success 200 {object} response.Envelope
// @Router /links/{id}/approve [post]
func (h *LinkHandler) Approve(c *gin.Context) {
	h.resolve(c, h.links.ApproveLink)
}

// Reject godoc
// @Summary Reject a pending link
// @Tags Links
// @Produce json
// @Param id path int true "Link ID"
// @Success 200 {object} response.Envelope
// @Router /links/{id}/reject [post]
func (h *LinkHandler) Reject(c *gin.Context) {
	h.resolve(c, h.links.RejectLink)
}

func (h *LinkHandler) resolve(c *gin.Context, fn func(context.Context, *models.JWTClaims, int64) (*models.ParentStudentLink, error)) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	link, err := fn(c.Request.Context(), claimsFromContext(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Delete godoc
// @Summary Unlink a family
// @Description Removes the owning parent together with every link it holds.
// @Tags Links
// @Param id path int true "Link ID"
// @Success 204
// @Router /links/{id} [delete]
func (h *LinkHandler) Delete(c *gin.Context) {
	id, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.links.DeleteLink(c.Request.Context(), claimsFromContext(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Repair godoc
// @Summary Remove orphaned links of a student or parent
// @Tags Links
// @Accept json
// @Produce json
// @Param payload body dto.RepairOrphansRequest true "Target"
// @Success 200 {object} response.Envelope
// @Router /links/repair [post]
func (h *LinkHandler) Repair(c *gin.Context) {
	var req dto.RepairOrphansRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	result, err := h.links.RepairOrphans(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
