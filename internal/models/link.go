package models

import "time"

// LinkStatus is the state of a parent-student link. Approved and rejected are terminal.
type LinkStatus string

const (
	LinkPending  LinkStatus = "pending"
	LinkApproved LinkStatus = "approved"
	LinkRejected LinkStatus = "rejected"
)

// LinkedBySystem marks links created by registration or parent requests.
const LinkedBySystem = "System"

// ParentStudentLink connects one parent account to one student.
type ParentStudentLink struct {
	ID           int64      `db:"id" json:"id"`
	ParentID     int64      `db:"parent_id" json:"parentId"`
	StudentID    string     `db:"student_id" json:"studentId"`
	Status       LinkStatus `db:"status" json:"status"`
	RequestDate  time.Time  `db:"request_date" json:"requestDate"`
	ApprovedDate *time.Time `db:"approved_date" json:"approvedDate,omitempty"`
	RejectedDate *time.Time `db:"rejected_date" json:"rejectedDate,omitempty"`
	LinkedBy     string     `db:"linked_by" json:"linkedBy"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// LinkDetail decorates a link with parent and student names. Orphaned links have no parent name.
type LinkDetail struct {
	ParentStudentLink
	ParentName  *string `db:"parent_name" json:"parentName,omitempty"`
	ParentEmail *string `db:"parent_email" json:"parentEmail,omitempty"`
	StudentName *string `db:"student_name" json:"studentName,omitempty"`
}

// LinkFilter scopes admin link listings.
type LinkFilter struct {
	Status    LinkStatus
	StudentID string
	ParentID  int64
	Page      int
	PageSize  int
}

// Guardian is a parent resolved through an approved link.
type Guardian struct {
	Parent
	LinkID int64 `db:"link_id" json:"linkId"`
}
