package dto

import "github.com/noah-isme/grade-portal/internal/models"

// RegisterParentRequest creates a guardian account and its pending link.
type RegisterParentRequest struct {
	FullName               string `json:"fullName" validate:"required,max=255"`
	Email                  string `json:"email" validate:"required,email"`
	Phone                  string `json:"phone" validate:"omitempty,max=32"`
	Password               string `json:"password" validate:"required,min=8,max=72"`
	Relationship           string `json:"relationship" validate:"omitempty,max=64"`
	NotificationPreference string `json:"notificationPreference" validate:"omitempty,oneof=email sms both"`
	StudentID              string `json:"studentId" validate:"required,max=64"`
}

// RegisterParentResponse returns the created parent and link.
type RegisterParentResponse struct {
	Parent *models.Parent            `json:"parent"`
	Link   *models.ParentStudentLink `json:"link"`
}

// RequestLinkRequest asks for a link to an additional student.
type RequestLinkRequest struct {
	StudentID string `json:"studentId" validate:"required,max=64"`
}

// RepairOrphansRequest names the student or parent whose links should be checked. One of them is required.
type RepairOrphansRequest struct {
	StudentID string `json:"studentId" validate:"max=64"`
	ParentID  int64  `json:"parentId" validate:"gte=0"`
}

// RepairResult reports an orphan repair.
type RepairResult struct {
	Cleaned bool  `json:"cleaned"`
	Removed int64 `json:"removed"`
}

// LinkQuery mirrors admin link listing filters.
type LinkQuery struct {
	Status    string `form:"status"`
	StudentID string `form:"studentId"`
	ParentID  int64  `form:"parentId"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}

// Filter converts the query into a repository filter.
func (q LinkQuery) Filter() models.LinkFilter {
	return models.LinkFilter{
		Status:    models.LinkStatus(q.Status),
		StudentID: q.StudentID,
		ParentID:  q.ParentID,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
}
