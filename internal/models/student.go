package models

import "time"

// Student represents an enrolled learner. StudentID is the enrollment number used across tables.
type Student struct {
	ID         int64     `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"studentId"`
	FullName   string    `db:"full_name" json:"fullName"`
	Email      *string   `db:"email" json:"email,omitempty"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Department string    `db:"department" json:"department"`
	Year       int       `db:"year" json:"year"`
	Semester   int       `db:"semester" json:"semester"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search     string
	Department string
	Year       int
	Page       int
	PageSize   int
}

// OfficialID is an allow-list entry of issued enrollment numbers.
type OfficialID struct {
	ID        int64      `db:"id" json:"id"`
	StudentID string     `db:"student_id" json:"studentId"`
	IsUsed    bool       `db:"is_used" json:"isUsed"`
	UsedAt    *time.Time `db:"used_at" json:"usedAt,omitempty"`
}

// StudentRecipient returns the realtime routing key for a student.
func StudentRecipient(studentID string) string {
	return "student:" + studentID
}
