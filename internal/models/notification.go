package models

import "time"

// NotificationType labels inbox entries.
type NotificationType string

const (
	NotificationGradeUpdate     NotificationType = "grade_update"
	NotificationWarning         NotificationType = "warning"
	NotificationFailing         NotificationType = "failing"
	NotificationLowGrade        NotificationType = "low_grade"
	NotificationAccountApproved NotificationType = "account_approved"
	NotificationGeneral         NotificationType = "general"
)

// Protected reports whether users may not delete notifications of this type.
func (t NotificationType) Protected() bool {
	switch t {
	case NotificationWarning, NotificationFailing, NotificationLowGrade:
		return true
	}
	return false
}

// Notification is an inbox entry addressed to exactly one of a student or a parent.
type Notification struct {
	ID             int64            `db:"id" json:"id"`
	StudentID      *string          `db:"student_id" json:"studentId,omitempty"`
	ParentID       *int64           `db:"parent_id" json:"parentId,omitempty"`
	Type           NotificationType `db:"type" json:"type"`
	Title          string           `db:"title" json:"title"`
	Message        string           `db:"message" json:"message"`
	IsRead         bool             `db:"is_read" json:"isRead"`
	AttachmentRef  *string          `db:"attachment_ref" json:"-"`
	AttachmentName *string          `db:"attachment_name" json:"attachmentName,omitempty"`
	AttachmentURL  string           `db:"-" json:"attachmentUrl,omitempty"`
	CreatedBy      *string          `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
}

// RecipientKey returns the realtime routing key of the addressee.
func (n *Notification) RecipientKey() string {
	if n.StudentID != nil {
		return StudentRecipient(*n.StudentID)
	}
	if n.ParentID != nil {
		return ParentRecipient(*n.ParentID)
	}
	return ""
}

// NotificationFilter scopes an inbox listing to one recipient.
type NotificationFilter struct {
	StudentID  string
	ParentID   int64
	UnreadOnly bool
	Page       int
	PageSize   int
}
