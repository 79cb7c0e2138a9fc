package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// GradeScope selects which grades of a student a listing includes.
type GradeScope string

const (
	GradeScopePublished GradeScope = "published"
	GradeScopeAll       GradeScope = "all"
)

// GradeCacheService caches per-student grade listings. Failures degrade to a cache miss.
type GradeCacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewGradeCacheService constructs the cache service.
func NewGradeCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *GradeCacheService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeCacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *GradeCacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

func studentGradesKey(studentID string, scope GradeScope) string {
	return "grades:student:" + studentID + ":" + string(scope)
}

// Get returns cached grades and whether the cache was hit.
func (s *GradeCacheService) Get(ctx context.Context, studentID string, scope GradeScope) ([]models.GradeView, bool) {
	if !s.Enabled() {
		return nil, false
	}
	start := time.Now()
	var grades []models.GradeView
	err := s.repo.Get(ctx, studentGradesKey(studentID, scope), &grades)
	s.metrics.RecordCacheLookup(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("grade cache get failed", zap.String("student_id", studentID), zap.Error(err))
		}
		return nil, false
	}
	return grades, true
}

// Set stores a listing.
func (s *GradeCacheService) Set(ctx context.Context, studentID string, scope GradeScope, grades []models.GradeView) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Set(ctx, studentGradesKey(studentID, scope), grades, s.ttl); err != nil {
		s.logger.Warn("grade cache set failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

// Invalidate drops every cached listing of the student.
func (s *GradeCacheService) Invalidate(ctx context.Context, studentID string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.DeleteByPattern(ctx, "grades:student:"+studentID+":*"); err != nil {
		s.logger.Warn("grade cache invalidate failed", zap.String("student_id", studentID), zap.Error(err))
	}
}
