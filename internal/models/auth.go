package models

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the roles carried by access tokens.
type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
	RoleParent  UserRole = "parent"
)

// IsStaff reports whether the role belongs to school staff.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// JWTClaims represents the verified access token payload.
// For students UserID is the enrollment number, for parents it is the parent row id.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// ParentID parses the numeric parent id of a parent principal.
func (c *JWTClaims) ParentID() (int64, error) {
	if c == nil || c.Role != RoleParent {
		return 0, fmt.Errorf("principal is not a parent")
	}
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse parent id: %w", err)
	}
	return id, nil
}

// RecipientKey returns the realtime routing key for the principal, or "" for staff.
func (c *JWTClaims) RecipientKey() string {
	if c == nil {
		return ""
	}
	switch c.Role {
	case RoleStudent:
		return StudentRecipient(c.UserID)
	case RoleParent:
		return "parent:" + c.UserID
	}
	return ""
}
