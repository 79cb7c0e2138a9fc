package models

import "time"

// AlertType categorises a grade-driven alert.
type AlertType string

const (
	AlertNewGrade    AlertType = "new_grade"
	AlertLowGrade    AlertType = "low_grade"
	AlertFailing     AlertType = "failing"
	AlertImprovement AlertType = "improvement"
	AlertExcellent   AlertType = "excellent"
)

// AlertSeverity ranks alert urgency.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is one grade notification sent to one guardian. Only IsRead changes after creation.
type Alert struct {
	ID         int64         `db:"id" json:"id"`
	StudentID  string        `db:"student_id" json:"studentId"`
	ParentID   int64         `db:"parent_id" json:"parentId"`
	GradeID    *int64        `db:"grade_id" json:"gradeId,omitempty"`
	CourseCode *string       `db:"course_code" json:"courseCode,omitempty"`
	Type       AlertType     `db:"type" json:"type"`
	Severity   AlertSeverity `db:"severity" json:"severity"`
	Title      string        `db:"title" json:"title"`
	Message    string        `db:"message" json:"message"`
	IsRead     bool          `db:"is_read" json:"isRead"`
	SentVia    string        `db:"sent_via" json:"sentVia"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
}

// AlertFilter scopes a guardian's alert listing.
type AlertFilter struct {
	ParentID   int64
	StudentID  string
	UnreadOnly bool
	Page       int
	PageSize   int
}
