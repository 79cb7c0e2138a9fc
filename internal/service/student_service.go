package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/internal/repository"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByStudentID(ctx context.Context, studentID string) (*models.Student, error)
	ExistsByStudentID(ctx context.Context, studentID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	DeleteByStudentID(ctx context.Context, studentID string) error
	MarkOfficialIDUsed(ctx context.Context, studentID string) (bool, error)
	ResetOfficialID(ctx context.Context, studentID string) error
}

// studentPurger removes rows keyed by a student's enrollment number.
type studentPurger interface {
	DeleteByStudent(ctx context.Context, studentID string) error
}

// StudentPurgers groups the per-table cleanups run when a student is deleted.
type StudentPurgers struct {
	Grades        studentPurger
	Alerts        studentPurger
	Notifications studentPurger
	Links         studentPurger
}

// StudentService handles the student directory.
type StudentService struct {
	tx        txRunner
	repo      studentRepository
	purge     StudentPurgers
	cache     *GradeCacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(tx txRunner, repo studentRepository, purge StudentPurgers, cache *GradeCacheService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{tx: tx, repo: repo, purge: purge, cache: cache, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student by enrollment number.
func (s *StudentService) Get(ctx context.Context, studentID string) (*models.Student, error) {
	student, err := s.repo.FindByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a new student and consumes its official id when one was issued.
func (s *StudentService) Create(ctx context.Context, req dto.CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student := &models.Student{
		StudentID:  strings.TrimSpace(req.StudentID),
		FullName:   strings.TrimSpace(req.FullName),
		Department: req.Department,
		Year:       req.Year,
		Semester:   req.Semester,
	}
	if req.Email != "" {
		email := strings.ToLower(req.Email)
		student.Email = &email
	}
	if req.Phone != "" {
		phone := req.Phone
		student.Phone = &phone
	}

	var official bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.repo.ExistsByStudentID(ctx, student.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student id")
		}
		if exists {
			return appErrors.Clone(appErrors.ErrConflict, "student id already registered")
		}
		if err := s.repo.Create(ctx, student); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return appErrors.Clone(appErrors.ErrConflict, "student id already registered")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
		official, err = s.repo.MarkOfficialIDUsed(ctx, student.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update official id")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("student created", zap.String("student_id", student.StudentID), zap.Bool("official_id", official))
	return student, nil
}

// Delete removes the student with its grades, alerts, notifications and links, then frees its official id.
func (s *StudentService) Delete(ctx context.Context, studentID string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		steps := []struct {
			name   string
			purger studentPurger
		}{
			{"grades", s.purge.Grades},
			{"alerts", s.purge.Alerts},
			{"notifications", s.purge.Notifications},
			{"links", s.purge.Links},
		}
		for _, step := range steps {
			if step.purger == nil {
				continue
			}
			if err := step.purger.DeleteByStudent(ctx, studentID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student "+step.name)
			}
		}
		if err := s.repo.DeleteByStudentID(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
		}
		if err := s.repo.ResetOfficialID(ctx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset official id")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, studentID)
	s.logger.Info("student deleted", zap.String("student_id", studentID))
	return nil
}
