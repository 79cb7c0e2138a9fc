package service

import (
	"context"

	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

// authorizeStudentRecords allows staff, the student themself and approved guardians.
// It reports whether principal is staff.
func authorizeStudentRecords(ctx context.Context, guardians guardianChecker, principal *models.JWTClaims, studentID string) (bool, error) {
	if principal == nil {
		return false, appErrors.Clone(appErrors.ErrUnauthorized, "missing principal")
	}
	switch principal.Role {
	case models.RoleAdmin, models.RoleTeacher:
		return true, nil
	case models.RoleStudent:
		if principal.UserID == studentID {
			return false, nil
		}
	case models.RoleParent:
		parentID, err := principal.ParentID()
		if err != nil {
			return false, appErrors.Clone(appErrors.ErrForbidden, "invalid parent principal")
		}
		linked, err := guardians.HasApprovedLink(ctx, parentID, studentID)
		if err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify guardian link")
		}
		if linked {
			return false, nil
		}
	}
	return false, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this student's records")
}
