package dto

// SendNotificationRequest is the multipart form for an admin notice. Exactly one recipient must be set.
type SendNotificationRequest struct {
	StudentID string `form:"studentId" validate:"max=64"`
	ParentID  int64  `form:"parentId" validate:"gte=0"`
	Type      string `form:"type" validate:"omitempty,oneof=general warning"`
	Title     string `form:"title" validate:"required,max=255"`
	Message   string `form:"message" validate:"required,max=5000"`
}

// InboxQuery mirrors inbox and alert listing filters.
type InboxQuery struct {
	UnreadOnly bool   `form:"unread"`
	StudentID  string `form:"studentId"`
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
}

// UnreadCountResponse wraps the unread counter.
type UnreadCountResponse struct {
	Count int `json:"count"`
}
