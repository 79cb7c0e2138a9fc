package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type gradeRepository interface {
	Create(ctx context.Context, grade *models.Grade) error
	FindByID(ctx context.Context, id int64) (*models.GradeView, error)
	Approve(ctx context.Context, id int64, approvedBy string, at time.Time) error
	Reject(ctx context.Context, id int64, reason string, at time.Time) error
	Update(ctx context.Context, grade *models.Grade) error
	ListByStudent(ctx context.Context, studentID string, publishedOnly bool) ([]models.GradeView, error)
	ListPending(ctx context.Context, filter models.PendingGradeFilter) ([]models.GradeView, int, error)
}

type studentReader interface {
	FindByStudentID(ctx context.Context, studentID string) (*models.Student, error)
}

type guardianChecker interface {
	HasApprovedLink(ctx context.Context, parentID int64, studentID string) (bool, error)
}

type gradeNotifier interface {
	NotifyGuardiansOfGrade(ctx context.Context, grade *models.Grade, student *models.Student)
}

// GradeService implements the approval workflow: submission, admin sign-off, edits and listings.
type GradeService struct {
	tx        txRunner
	grades    gradeRepository
	students  studentReader
	guardians guardianChecker
	notifier  gradeNotifier
	cache     *GradeCacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewGradeService constructs the grade service.
func NewGradeService(tx txRunner, grades gradeRepository, students studentReader, guardians guardianChecker, notifier gradeNotifier,
	cache *GradeCacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		tx:        tx,
		grades:    grades,
		students:  students,
		guardians: guardians,
		notifier:  notifier,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitGrade records a grade. Teacher grades wait for approval; admin grades are published immediately.
func (s *GradeService) SubmitGrade(ctx context.Context, actor *models.JWTClaims, req dto.SubmitGradeRequest) (*models.GradeView, error) {
	if actor == nil || !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may submit grades")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	ctx = WithFanoutGuard(ctx)

	now := s.now()
	grade := &models.Grade{
		StudentID:     strings.TrimSpace(req.StudentID),
		CourseCode:    strings.TrimSpace(req.CourseCode),
		CourseName:    strings.TrimSpace(req.CourseName),
		Grade:         strings.ToUpper(strings.TrimSpace(req.Grade)),
		Score:         *req.Score,
		CreditHours:   req.CreditHours,
		Semester:      req.Semester,
		AcademicYear:  req.AcademicYear,
		UploadedBy:    actor.UserID,
		UploaderRole:  actor.Role,
		SubmittedDate: now,
	}
	if actor.Role == models.RoleAdmin {
		grade.ApprovalStatus = models.ApprovalPublished
		grade.Published = req.Status == string(models.ApprovalPublished)
		approvedBy := actor.UserID
		grade.ApprovedBy = &approvedBy
		grade.ApprovalDate = &now
	} else {
		grade.ApprovalStatus = models.ApprovalPending
		grade.Published = false
	}

	var student *models.Student
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		student, err = s.students.FindByStudentID(ctx, grade.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "student not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if err := s.grades.Create(ctx, grade); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grade")
		}
		s.afterGradeWrite(ctx, grade, student)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("grade submitted",
		zap.Int64("grade_id", grade.ID), zap.String("student_id", grade.StudentID),
		zap.String("uploaded_by", grade.UploadedBy), zap.String("approval_status", string(grade.ApprovalStatus)))
	view := &models.GradeView{Grade: *grade, StudentName: student.FullName}
	if actor.Role == models.RoleTeacher && actor.FullName != "" {
		name := actor.FullName
		view.TeacherName = &name
	}
	return view, nil
}

// SubmitBulk submits every item independently and tallies the outcomes.
func (s *GradeService) SubmitBulk(ctx context.Context, actor *models.JWTClaims, req dto.SubmitBulkRequest) (*dto.BulkResult, error) {
	if err := s.validator.Var(req.Grades, "required,min=1,max=500"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "grades must contain between 1 and 500 items")
	}
	result := &dto.BulkResult{Errors: []string{}}
	for i, item := range req.Grades {
		if _, err := s.SubmitGrade(ctx, actor, item); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("item %d (%s %s): %s", i+1, item.StudentID, item.CourseCode, errorMessage(err)))
			continue
		}
		result.Success++
	}
	return result, nil
}

// ApproveGrade publishes a pending grade and fans it out to guardians.
func (s *GradeService) ApproveGrade(ctx context.Context, actor *models.JWTClaims, id int64) (*models.GradeView, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may approve grades")
	}
	ctx = WithFanoutGuard(ctx)

	var view *models.GradeView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		view, err = s.loadPending(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.grades.Approve(ctx, id, actor.UserID, now); err != nil {
			return s.transitionError(err, "failed to approve grade")
		}
		approvedBy := actor.UserID
		view.ApprovalStatus = models.ApprovalPublished
		view.Published = true
		view.ApprovedBy = &approvedBy
		view.ApprovalDate = &now
		view.UpdatedAt = now

		s.afterGradeWrite(ctx, &view.Grade, &models.Student{StudentID: view.StudentID, FullName: view.StudentName})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("grade approved", zap.Int64("grade_id", id), zap.String("approved_by", actor.UserID))
	return view, nil
}

// RejectGrade rejects a pending grade. Rejected grades are terminal and never fan out.
func (s *GradeService) RejectGrade(ctx context.Context, actor *models.JWTClaims, id int64, req dto.RejectGradeRequest) (*models.GradeView, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may reject grades")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = models.DefaultRejectionReason
	}

	var view *models.GradeView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		view, err = s.loadPending(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.grades.Reject(ctx, id, reason, now); err != nil {
			return s.transitionError(err, "failed to reject grade")
		}
		view.ApprovalStatus = models.ApprovalRejected
		view.Published = false
		view.RejectionReason = &reason
		view.UpdatedAt = now
		s.afterGradeWrite(ctx, &view.Grade, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("grade rejected", zap.Int64("grade_id", id), zap.String("rejected_by", actor.UserID))
	return view, nil
}

// ApproveBulk approves each id independently. One failure never aborts the batch.
func (s *GradeService) ApproveBulk(ctx context.Context, actor *models.JWTClaims, req dto.ApproveBulkRequest) (*dto.BulkResult, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may approve grades")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "gradeIds must contain between 1 and 500 ids")
	}
	result := &dto.BulkResult{Errors: []string{}}
	for _, id := range req.GradeIDs {
		if _, err := s.ApproveGrade(ctx, actor, id); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("grade %d: %s", id, errorMessage(err)))
			continue
		}
		result.Success++
	}
	return result, nil
}

// UpdateGrade edits a grade. Admins edit any non-rejected grade; teachers edit only their own pending grades.
// A grade that is published after the edit fans out again.
func (s *GradeService) UpdateGrade(ctx context.Context, actor *models.JWTClaims, id int64, req dto.UpdateGradeRequest) (*models.GradeView, error) {
	if actor == nil || !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may edit grades")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	ctx = WithFanoutGuard(ctx)

	var view *models.GradeView
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		view, err = s.grades.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "grade not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
		}
		if view.ApprovalStatus == models.ApprovalRejected {
			return appErrors.Clone(appErrors.ErrConflict, "rejected grades cannot be edited; submit a new grade instead")
		}
		if actor.Role == models.RoleTeacher {
			if view.UploadedBy != actor.UserID {
				return appErrors.Clone(appErrors.ErrForbidden, "teachers may only edit their own grades")
			}
			if view.ApprovalStatus != models.ApprovalPending {
				return appErrors.Clone(appErrors.ErrForbidden, "published grades can only be edited by an admin")
			}
		}
		if err := applyGradeUpdate(&view.Grade, req, actor.Role); err != nil {
			return err
		}
		if err := s.grades.Update(ctx, &view.Grade); err != nil {
			return s.transitionError(err, "failed to update grade")
		}
		s.afterGradeWrite(ctx, &view.Grade, &models.Student{StudentID: view.StudentID, FullName: view.StudentName})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("grade updated", zap.Int64("grade_id", id), zap.String("updated_by", actor.UserID))
	return view, nil
}

func applyGradeUpdate(g *models.Grade, req dto.UpdateGradeRequest, role models.UserRole) error {
	if req.CourseCode != nil {
		g.CourseCode = strings.TrimSpace(*req.CourseCode)
	}
	if req.CourseName != nil {
		g.CourseName = strings.TrimSpace(*req.CourseName)
	}
	if req.Grade != nil {
		g.Grade = strings.ToUpper(strings.TrimSpace(*req.Grade))
	}
	if req.Score != nil {
		g.Score = *req.Score
	}
	if req.CreditHours != nil {
		g.CreditHours = *req.CreditHours
	}
	if req.Semester != nil {
		g.Semester = *req.Semester
	}
	if req.AcademicYear != nil {
		g.AcademicYear = *req.AcademicYear
	}
	if req.Published != nil && role == models.RoleAdmin {
		if g.ApprovalStatus != models.ApprovalPublished {
			return appErrors.Clone(appErrors.ErrConflict, "pending grades are published through approval")
		}
		g.Published = *req.Published
	}
	return nil
}

// ListPending returns the admin approval queue.
func (s *GradeService) ListPending(ctx context.Context, filter models.PendingGradeFilter) ([]models.GradeView, *models.Pagination, error) {
	grades, total, err := s.grades.ListPending(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending grades")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return grades, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ListStudentGrades returns the grades visible to principal. Students and guardians see published grades only.
func (s *GradeService) ListStudentGrades(ctx context.Context, principal *models.JWTClaims, studentID string) ([]models.GradeView, error) {
	scope, err := s.gradeScope(ctx, principal, studentID)
	if err != nil {
		return nil, err
	}
	if grades, ok := s.cache.Get(ctx, studentID, scope); ok {
		return grades, nil
	}
	if scope == GradeScopeAll {
		if _, err := s.students.FindByStudentID(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
	}
	grades, err := s.grades.ListByStudent(ctx, studentID, scope == GradeScopePublished)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}
	if grades == nil {
		grades = []models.GradeView{}
	}
	s.cache.Set(ctx, studentID, scope, grades)
	return grades, nil
}

// gradeScope authorises principal for studentID's grades. Staff see every approval state.
func (s *GradeService) gradeScope(ctx context.Context, principal *models.JWTClaims, studentID string) (GradeScope, error) {
	staff, err := authorizeStudentRecords(ctx, s.guardians, principal, studentID)
	if err != nil {
		return "", err
	}
	if staff {
		return GradeScopeAll, nil
	}
	return GradeScopePublished, nil
}

func (s *GradeService) loadPending(ctx context.Context, id int64) (*models.GradeView, error) {
	view, err := s.grades.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	if view.ApprovalStatus != models.ApprovalPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("grade is %s, not pending approval", view.ApprovalStatus))
	}
	return view, nil
}

// transitionError maps a conditional write that matched no row to a conflict.
func (s *GradeService) transitionError(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrConflict, "grade changed state concurrently")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

// afterGradeWrite fans out published grades and schedules cache invalidation.
func (s *GradeService) afterGradeWrite(ctx context.Context, grade *models.Grade, student *models.Student) {
	if grade.Published && grade.ApprovalStatus == models.ApprovalPublished && s.notifier != nil {
		s.notifier.NotifyGuardiansOfGrade(ctx, grade, student)
	}
	status := grade.ApprovalStatus
	studentID := grade.StudentID
	database.AfterCommit(ctx, func() {
		s.metrics.RecordGradeTransition(status)
		s.cache.Invalidate(context.WithoutCancel(ctx), studentID)
	})
}

// errorMessage returns the client-facing message of err.
func errorMessage(err error) string {
	if appErr := appErrors.FromError(err); appErr != nil && appErr.Code != appErrors.ErrInternal.Code {
		return appErr.Message
	}
	return "internal error"
}
