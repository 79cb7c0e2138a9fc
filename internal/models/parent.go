package models

import (
	"strconv"
	"time"
)

// ParentStatus mirrors the resolution of the parent's canonical link.
type ParentStatus string

const (
	ParentPending  ParentStatus = "pending"
	ParentApproved ParentStatus = "approved"
	ParentRejected ParentStatus = "rejected"
)

// NotificationPreference selects external delivery channels.
type NotificationPreference string

const (
	PreferEmail NotificationPreference = "email"
	PreferSMS   NotificationPreference = "sms"
	PreferBoth  NotificationPreference = "both"
)

// Parent is a guardian account.
type Parent struct {
	ID                     int64                  `db:"id" json:"id"`
	FullName               string                 `db:"full_name" json:"fullName"`
	Email                  string                 `db:"email" json:"email"`
	Phone                  *string                `db:"phone" json:"phone,omitempty"`
	PasswordHash           string                 `db:"password_hash" json:"-"`
	Relationship           string                 `db:"relationship" json:"relationship"`
	NotificationPreference NotificationPreference `db:"notification_preference" json:"notificationPreference"`
	Status                 ParentStatus           `db:"status" json:"status"`
	StudentID              string                 `db:"student_id" json:"studentId"`
	CreatedAt              time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time              `db:"updated_at" json:"updatedAt"`
}

// RecipientKey returns the realtime routing key of the parent.
func (p *Parent) RecipientKey() string {
	return ParentRecipient(p.ID)
}

// ParentRecipient returns the realtime routing key for a parent id.
func ParentRecipient(id int64) string {
	return "parent:" + strconv.FormatInt(id, 10)
}
