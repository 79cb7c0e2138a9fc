package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
	"github.com/noah-isme/grade-portal/pkg/export"
)

type transcriptGradeLister interface {
	ListByStudent(ctx context.Context, studentID string, publishedOnly bool) ([]models.GradeView, error)
}

// letterPoints maps letter grades to a 4.0 scale.
var letterPoints = map[string]float64{
	"A+": 4.0, "A": 4.0, "A-": 3.7,
	"B+": 3.3, "B": 3.0, "B-": 2.7,
	"C+": 2.3, "C": 2.0, "C-": 1.7,
	"D+": 1.3, "D": 1.0,
	"F": 0,
}

// Transcript is a rendered transcript file.
type Transcript struct {
	Filename    string
	ContentType string
	Body        []byte
}

// TranscriptSummary aggregates published grades.
type TranscriptSummary struct {
	TotalCredits int
	GPA          float64
	AverageScore float64
	Courses      int
}

// ReportService renders student transcripts from published grades.
type ReportService struct {
	grades    transcriptGradeLister
	students  studentReader
	guardians guardianChecker
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(grades transcriptGradeLister, students studentReader, guardians guardianChecker, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{grades: grades, students: students, guardians: guardians, logger: logger, now: time.Now}
}

// Transcript renders the published grades of studentID as CSV or PDF.
func (s *ReportService) Transcript(ctx context.Context, principal *models.JWTClaims, studentID, rawFormat string) (*Transcript, error) {
	format, err := export.ParseFormat(strings.ToLower(rawFormat))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	if _, err := authorizeStudentRecords(ctx, s.guardians, principal, studentID); err != nil {
		return nil, err
	}
	student, err := s.students.FindByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	grades, err := s.grades.ListByStudent(ctx, studentID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
	}

	table := transcriptTable(student, grades, s.now())
	body, err := export.Render(table, format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render transcript")
	}
	s.logger.Info("transcript rendered", zap.String("student_id", studentID), zap.String("format", string(format)), zap.Int("courses", len(grades)))
	return &Transcript{
		Filename:    fmt.Sprintf("transcript_%s.%s", studentID, format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

// Summarize computes credit-weighted GPA and the mean score. Letters off the 4.0 scale are left out of the GPA.
func Summarize(grades []models.GradeView) TranscriptSummary {
	var (
		summary    TranscriptSummary
		points     float64
		gpaCredits int
		scoreTotal float64
	)
	for _, g := range grades {
		summary.Courses++
		summary.TotalCredits += g.CreditHours
		scoreTotal += g.Score
		if p, ok := letterPoints[strings.ToUpper(strings.TrimSpace(g.Grade.Grade))]; ok && g.CreditHours > 0 {
			points += p * float64(g.CreditHours)
			gpaCredits += g.CreditHours
		}
	}
	if gpaCredits > 0 {
		summary.GPA = points / float64(gpaCredits)
	}
	if summary.Courses > 0 {
		summary.AverageScore = scoreTotal / float64(summary.Courses)
	}
	return summary
}

func transcriptTable(student *models.Student, grades []models.GradeView, at time.Time) export.Table {
	rows := make([][]string, 0, len(grades))
	for _, g := range grades {
		rows = append(rows, []string{
			g.CourseCode,
			g.CourseName,
			g.Semester,
			g.AcademicYear,
			strconv.Itoa(g.CreditHours),
			g.Grade.Grade,
			strconv.FormatFloat(g.Score, 'f', 1, 64),
		})
	}
	summary := Summarize(grades)
	return export.Table{
		Title:    "Academic Transcript",
		Subtitle: fmt.Sprintf("%s (%s), %s, generated %s", student.FullName, student.StudentID, student.Department, at.UTC().Format("2006-01-02")),
		Columns:  []string{"Course Code", "Course Name", "Semester", "Academic Year", "Credits", "Grade", "Score"},
		Rows:     rows,
		Summary: []string{
			fmt.Sprintf("Courses: %d", summary.Courses),
			fmt.Sprintf("Total credits: %d", summary.TotalCredits),
			fmt.Sprintf("GPA: %.2f", summary.GPA),
			fmt.Sprintf("Average score: %.1f", summary.AverageScore),
		},
	}
}
