package dto

import "github.com/noah-isme/grade-portal/internal/models"

// CreateStudentRequest registers a student.
type CreateStudentRequest struct {
	StudentID  string `json:"studentId" validate:"required,max=64"`
	FullName   string `json:"fullName" validate:"required,max=255"`
	Email      string `json:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Department string `json:"department" validate:"required,max=128"`
	Year       int    `json:"year" validate:"gte=1,lte=10"`
	Semester   int    `json:"semester" validate:"gte=1,lte=3"`
}

// StudentQuery mirrors list filters.
type StudentQuery struct {
	Search     string `form:"search"`
	Department string `form:"department"`
	Year       int    `form:"year"`
	Page       int    `form:"page"`
	PageSize   int    `form:"pageSize"`
}

// Filter converts the query into a repository filter.
func (q StudentQuery) Filter() models.StudentFilter {
	return models.StudentFilter{Search: q.Search, Department: q.Department, Year: q.Year, Page: q.Page, PageSize: q.PageSize}
}
