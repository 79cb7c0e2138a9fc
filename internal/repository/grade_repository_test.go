package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grade-portal/internal/models"
)

func TestGradeRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery("INSERT INTO grades").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	grade := &models.Grade{StudentID: "SID-1", CourseCode: "CS101", Grade: "F", Score: 45, ApprovalStatus: models.ApprovalPending}
	require.NoError(t, repo.Create(context.Background(), grade))
	assert.Equal(t, int64(42), grade.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryApproveOnlyPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("UPDATE grades SET approval_status = \\$2, published = TRUE .* WHERE id = \\$1 AND approval_status = \\$5").
		WithArgs(int64(1), models.ApprovalPublished, "admin-1", sqlmock.AnyArg(), models.ApprovalPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE grades SET approval_status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Approve(context.Background(), 1, "admin-1", time.Now()))
	assert.ErrorIs(t, repo.Approve(context.Background(), 1, "admin-1", time.Now()), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryReject(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("UPDATE grades SET approval_status = \\$2, published = FALSE, rejection_reason = \\$3").
		WithArgs(int64(5), models.ApprovalRejected, "wrong course", sqlmock.AnyArg(), models.ApprovalPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reject(context.Background(), 5, "wrong course", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListByStudentPublishedOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery("WHERE g.student_id = \\$1 AND g.published = TRUE").
		WithArgs("SID-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_code", "score", "published", "student_name"}).
			AddRow(1, "SID-1", "CS101", 88.5, true, "Ada"))

	grades, err := repo.ListByStudent(context.Background(), "SID-1", true)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, "Ada", grades[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery("LEFT JOIN teachers t .* WHERE g.approval_status = \\$1 AND g.course_code = \\$2 ORDER BY g.submitted_date ASC LIMIT 20 OFFSET 0").
		WithArgs(models.ApprovalPending, "CS101").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "approval_status", "student_name", "teacher_name"}).
			AddRow(3, "SID-1", "pending_approval", "Ada", "Mr. T"))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM grades g WHERE g.approval_status = \\$1").
		WithArgs(models.ApprovalPending, "CS101").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	grades, total, err := repo.ListPending(context.Background(), models.PendingGradeFilter{CourseCode: "CS101"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, grades, 1)
	require.NotNil(t, grades[0].TeacherName)
	assert.Equal(t, "Mr. T", *grades[0].TeacherName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryUpdateSkipsRejected(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("UPDATE grades SET course_code .* WHERE id = \\$1 AND approval_status <> \\$10").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Grade{ID: 9})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
