package dto

import "github.com/noah-isme/grade-portal/internal/models"

// SubmitGradeRequest is the payload for entering one grade.
// Status only applies to admins: "published" releases the grade, anything else stores it as a draft.
type SubmitGradeRequest struct {
	StudentID    string   `json:"studentId" validate:"required,max=64"`
	CourseCode   string   `json:"courseCode" validate:"required,max=32"`
	CourseName   string   `json:"courseName" validate:"required,max=255"`
	Grade        string   `json:"grade" validate:"required,max=3"`
	Score        *float64 `json:"score" validate:"required,gte=0,lte=100"`
	CreditHours  int      `json:"creditHours" validate:"gte=0,lte=12"`
	Semester     string   `json:"semester" validate:"required,max=32"`
	AcademicYear string   `json:"academicYear" validate:"omitempty,max=16"`
	Status       string   `json:"status" validate:"omitempty,oneof=published draft"`
}

// SubmitBulkRequest carries several grades. Items are validated one by one.
type SubmitBulkRequest struct {
	Grades []SubmitGradeRequest `json:"grades" validate:"required,min=1,max=500"`
}

// UpdateGradeRequest edits a grade. Omitted fields keep their value.
type UpdateGradeRequest struct {
	CourseCode   *string  `json:"courseCode" validate:"omitempty,min=1,max=32"`
	CourseName   *string  `json:"courseName" validate:"omitempty,min=1,max=255"`
	Grade        *string  `json:"grade" validate:"omitempty,min=1,max=3"`
	Score        *float64 `json:"score" validate:"omitempty,gte=0,lte=100"`
	CreditHours  *int     `json:"creditHours" validate:"omitempty,gte=0,lte=12"`
	Semester     *string  `json:"semester" validate:"omitempty,min=1,max=32"`
	AcademicYear *string  `json:"academicYear" validate:"omitempty,max=16"`
	// Published lets admins release or withdraw a draft. Ignored for teachers.
	Published *bool `json:"published"`
}

// RejectGradeRequest carries the optional rejection reason.
type RejectGradeRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// ApproveBulkRequest lists grade ids to approve.
type ApproveBulkRequest struct {
	GradeIDs []int64 `json:"gradeIds" validate:"required,min=1,max=500"`
}

// BulkResult reports a batch outcome; Errors holds one readable reason per failed item.
type BulkResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// CheckGradesRequest optionally scopes the scan to one student.
type CheckGradesRequest struct {
	StudentID string `json:"studentId" validate:"omitempty,max=64"`
}

// CheckGradesResult summarises a check-grades run.
type CheckGradesResult struct {
	Checked       int `json:"checked"`
	AlertsCreated int `json:"alertsCreated"`
}

// PendingGradesQuery mirrors the approval queue filters.
type PendingGradesQuery struct {
	StudentID  string `form:"studentId"`
	CourseCode string `form:"courseCode"`
	UploadedBy string `form:"uploadedBy"`
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
}

// Filter converts the query into a repository filter.
func (q PendingGradesQuery) Filter() models.PendingGradeFilter {
	return models.PendingGradeFilter{
		StudentID:  q.StudentID,
		CourseCode: q.CourseCode,
		UploadedBy: q.UploadedBy,
		Page:       q.Page,
		PageSize:   q.PageSize,
	}
}
