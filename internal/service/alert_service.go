package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type publishedGradeLister interface {
	ListPublished(ctx context.Context, studentID string) ([]models.Grade, error)
}

type alertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	Exists(ctx context.Context, gradeID, parentID int64, alertType models.AlertType) (bool, error)
	ListByParent(ctx context.Context, filter models.AlertFilter) ([]models.Alert, int, error)
	MarkRead(ctx context.Context, id, parentID int64) error
}

// AlertService exposes guardian alerts and the check-grades sweep.
type AlertService struct {
	grades    publishedGradeLister
	students  studentReader
	guardians guardianResolver
	alerts    alertRepository
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAlertService constructs the alert service.
func NewAlertService(grades publishedGradeLister, students studentReader, guardians guardianResolver, alerts alertRepository, metrics *MetricsService, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertService{grades: grades, students: students, guardians: guardians, alerts: alerts, metrics: metrics, logger: logger}
}

// CheckGrades scans published grades of one student, or of every student when studentID is empty,
// and creates the failing and low-grade alerts approved guardians are still missing.
func (s *AlertService) CheckGrades(ctx context.Context, actor *models.JWTClaims, req dto.CheckGradesRequest) (*dto.CheckGradesResult, error) {
	if actor == nil || actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may check grades")
	}
	grades, err := s.grades.ListPublished(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list published grades")
	}

	result := &dto.CheckGradesResult{Checked: len(grades)}
	guardiansByStudent := map[string][]models.Guardian{}
	names := map[string]string{}
	for i := range grades {
		grade := &grades[i]
		c := Classify(grade.Score, grade.Grade)
		if !c.Flagged() {
			continue
		}
		guardians, ok := guardiansByStudent[grade.StudentID]
		if !ok {
			guardians, err = s.guardians.ApprovedGuardians(ctx, grade.StudentID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve guardians")
			}
			guardiansByStudent[grade.StudentID] = guardians
		}
		if len(guardians) == 0 {
			continue
		}
		name, err := s.studentName(ctx, names, grade.StudentID)
		if err != nil {
			return nil, err
		}
		for _, guardian := range guardians {
			created, err := s.ensureAlert(ctx, c, grade, guardian.ID, name)
			if err != nil {
				return nil, err
			}
			if created {
				result.AlertsCreated++
			}
		}
	}
	s.logger.Info("grades checked", zap.String("student_id", req.StudentID),
		zap.Int("checked", result.Checked), zap.Int("alerts_created", result.AlertsCreated))
	return result, nil
}

func (s *AlertService) ensureAlert(ctx context.Context, c Classification, grade *models.Grade, parentID int64, studentName string) (bool, error) {
	exists, err := s.alerts.Exists(ctx, grade.ID, parentID, c.Type)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing alerts")
	}
	if exists {
		return false, nil
	}
	text := guardianAlert(c, grade, studentName)
	gradeID := grade.ID
	courseCode := grade.CourseCode
	alert := &models.Alert{
		StudentID:  grade.StudentID,
		ParentID:   parentID,
		GradeID:    &gradeID,
		CourseCode: &courseCode,
		Type:       c.Type,
		Severity:   c.Severity,
		Title:      text.Title,
		Message:    text.Message,
		SentVia:    c.SentVia(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create alert")
	}
	s.metrics.RecordAlert(c)
	return true, nil
}

func (s *AlertService) studentName(ctx context.Context, names map[string]string, studentID string) (string, error) {
	if name, ok := names[studentID]; ok {
		return name, nil
	}
	student, err := s.students.FindByStudentID(ctx, studentID)
	switch {
	case err == nil:
		names[studentID] = student.FullName
	case errors.Is(err, sql.ErrNoRows):
		names[studentID] = studentID
	default:
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return names[studentID], nil
}

// ListAlerts returns the calling guardian's alerts.
func (s *AlertService) ListAlerts(ctx context.Context, actor *models.JWTClaims, query dto.InboxQuery) ([]models.Alert, *models.Pagination, error) {
	parentID, err := actor.ParentID()
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only parents have alerts")
	}
	filter := models.AlertFilter{
		ParentID:   parentID,
		StudentID:  query.StudentID,
		UnreadOnly: query.UnreadOnly,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	alerts, total, err := s.alerts.ListByParent(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list alerts")
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return alerts, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkAlertRead flags one of the guardian's alerts as read.
func (s *AlertService) MarkAlertRead(ctx context.Context, actor *models.JWTClaims, id int64) error {
	parentID, err := actor.ParentID()
	if err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "only parents have alerts")
	}
	if err := s.alerts.MarkRead(ctx, id, parentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "alert not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark alert read")
	}
	return nil
}
