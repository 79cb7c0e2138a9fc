package models

import "time"

// ApprovalStatus is the approval sub-state of a grade.
type ApprovalStatus string

const (
	ApprovalPublished ApprovalStatus = "published"
	ApprovalPending   ApprovalStatus = "pending_approval"
	ApprovalRejected  ApprovalStatus = "rejected"
)

// DefaultRejectionReason is stored when an admin rejects without a reason.
const DefaultRejectionReason = "No reason provided"

// Grade is one academic result. Score uses a 0-100 scale.
type Grade struct {
	ID              int64          `db:"id" json:"id"`
	StudentID       string         `db:"student_id" json:"studentId"`
	CourseCode      string         `db:"course_code" json:"courseCode"`
	CourseName      string         `db:"course_name" json:"courseName"`
	Grade           string         `db:"grade" json:"grade"`
	Score           float64        `db:"score" json:"score"`
	CreditHours     int            `db:"credit_hours" json:"creditHours"`
	Semester        string         `db:"semester" json:"semester"`
	AcademicYear    string         `db:"academic_year" json:"academicYear"`
	UploadedBy      string         `db:"uploaded_by" json:"uploadedBy"`
	UploaderRole    UserRole       `db:"uploader_role" json:"uploaderRole"`
	ApprovalStatus  ApprovalStatus `db:"approval_status" json:"approvalStatus"`
	Published       bool           `db:"published" json:"published"`
	ApprovedBy      *string        `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovalDate    *time.Time     `db:"approval_date" json:"approvalDate,omitempty"`
	RejectionReason *string        `db:"rejection_reason" json:"rejectionReason,omitempty"`
	SubmittedDate   time.Time      `db:"submitted_date" json:"submittedDate"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

// GradeView is a grade with the denormalised names shown in listings.
type GradeView struct {
	Grade
	StudentName string  `db:"student_name" json:"studentName"`
	TeacherName *string `db:"teacher_name" json:"teacherName,omitempty"`
}

// PendingGradeFilter scopes the approval queue.
type PendingGradeFilter struct {
	StudentID  string
	CourseCode string
	UploadedBy string
	Page       int
	PageSize   int
}

// GradeUpdate holds editable grade fields. Nil fields are left unchanged.
type GradeUpdate struct {
	CourseCode   *string
	CourseName   *string
	Grade        *string
	Score        *float64
	CreditHours  *int
	Semester     *string
	AcademicYear *string
}
