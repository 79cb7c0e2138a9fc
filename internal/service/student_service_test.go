package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type failingPurger struct{}

func (failingPurger) DeleteByStudent(context.Context, string) error { return errors.New("boom") }

func newStudentFixture() (*memStore, *StudentService, *stubCacheRepo) {
	store := newMemStore()
	cacheRepo := newStubCacheRepo()
	purge := StudentPurgers{
		Grades:        fakeGrades{store},
		Alerts:        fakeAlerts{store},
		Notifications: fakeNotifications{store},
		Links:         fakeLinks{store},
	}
	svc := NewStudentService(&passthroughTx{}, fakeStudents{store}, purge, NewGradeCacheService(cacheRepo, nil, 0, nil, true), nil, nil)
	return store, svc, cacheRepo
}

func TestStudentCreateMarksOfficialID(t *testing.T) {
	store, svc, _ := newStudentFixture()
	store.officialIDs["SID-1"] = false

	student, err := svc.Create(context.Background(), dto.CreateStudentRequest{
		StudentID: " SID-1 ", FullName: "Ada Lovelace", Email: "Ada@Uni.edu", Department: "CS", Year: 2, Semester: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "SID-1", student.StudentID)
	require.NotNil(t, student.Email)
	assert.Equal(t, "ada@uni.edu", *student.Email)
	assert.True(t, store.officialIDs["SID-1"])

	_, err = svc.Create(context.Background(), dto.CreateStudentRequest{StudentID: "SID-1", FullName: "Dup", Department: "CS", Year: 1, Semester: 1})
	assertAppError(t, err, appErrors.ErrConflict)

	_, err = svc.Create(context.Background(), dto.CreateStudentRequest{StudentID: "SID-2", Department: "CS", Year: 1, Semester: 1})
	assertAppError(t, err, appErrors.ErrValidation)
}

func TestStudentDeleteCascades(t *testing.T) {
	store, svc, cacheRepo := newStudentFixture()
	store.officialIDs["SID-1"] = true
	store.addStudent("SID-1", "Ada")
	store.addStudent("SID-2", "Bob")
	p := store.addParent("Grace", "SID-1", models.ParentApproved, models.PreferEmail)
	store.addLink(p.ID, "SID-1", models.LinkApproved)
	other := store.addLink(p.ID, "SID-2", models.LinkPending)
	store.addGrade(models.Grade{StudentID: "SID-1", CourseCode: "CS101"})
	kept := store.addGrade(models.Grade{StudentID: "SID-2", CourseCode: "CS101"})
	store.alerts = append(store.alerts, models.Alert{ID: 90, StudentID: "SID-1", ParentID: p.ID})
	sid := "SID-1"
	store.notifications = append(store.notifications, models.Notification{ID: 91, StudentID: &sid})

	require.NoError(t, svc.Delete(context.Background(), "SID-1"))

	assert.NotContains(t, store.students, "SID-1")
	assert.Contains(t, store.students, "SID-2")
	assert.Len(t, store.grades, 1)
	assert.Contains(t, store.grades, kept.ID)
	assert.Empty(t, store.alerts)
	assert.Empty(t, store.notifications)
	assert.Len(t, store.links, 1)
	assert.Contains(t, store.links, other.ID)
	assert.False(t, store.officialIDs["SID-1"])
	assert.Contains(t, cacheRepo.deletedPatterns, "grades:student:SID-1:*")

	err := svc.Delete(context.Background(), "SID-1")
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestStudentDeleteStopsOnPurgeFailure(t *testing.T) {
	store, svc, _ := newStudentFixture()
	store.addStudent("SID-1", "Ada")
	svc.purge.Alerts = failingPurger{}

	err := svc.Delete(context.Background(), "SID-1")
	assertAppError(t, err, appErrors.ErrInternal)
	assert.Contains(t, err.Error(), "failed to delete student alerts")
	assert.Contains(t, store.students, "SID-1")
}

func TestStudentGetAndList(t *testing.T) {
	store, svc, _ := newStudentFixture()
	store.addStudent("SID-2", "Bob")
	store.addStudent("SID-1", "Ada")

	students, page, err := svc.List(context.Background(), models.StudentFilter{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "SID-1", students[0].StudentID)
	assert.Equal(t, models.MaxPageSize, page.PageSize)

	_, err = svc.Get(context.Background(), "NOPE")
	assertAppError(t, err, appErrors.ErrNotFound)
}
