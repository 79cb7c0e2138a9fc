package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grade-portal/internal/dto"
	"github.com/noah-isme/grade-portal/internal/models"
	appErrors "github.com/noah-isme/grade-portal/pkg/errors"
)

type gradeFixture struct {
	*fanoutFixture
	grades *GradeService
	cache  *stubCacheRepo
}

func newGradeFixture() *gradeFixture {
	f := newFanoutFixture()
	cacheRepo := newStubCacheRepo()
	cache := NewGradeCacheService(cacheRepo, nil, 0, nil, true)
	grades := NewGradeService(&passthroughTx{}, fakeGrades{f.store}, fakeStudents{f.store}, fakeLinks{f.store}, f.svc, cache, nil, nil, nil)
	return &gradeFixture{fanoutFixture: f, grades: grades, cache: cacheRepo}
}

func (f *gradeFixture) approvedGuardian(studentID, name string) *models.Parent {
	p := f.store.addParent(name, studentID, models.ParentApproved, models.PreferEmail)
	f.store.addLink(p.ID, studentID, models.LinkApproved)
	return p
}

func submitPayload(studentID string, score float64, letter string) dto.SubmitGradeRequest {
	return dto.SubmitGradeRequest{
		StudentID:   studentID,
		CourseCode:  "CS101",
		CourseName:  "Intro to CS",
		Grade:       letter,
		Score:       ptrFloat(score),
		CreditHours: 3,
		Semester:    "Fall",
		Status:      "published",
	}
}

func assertAppError(t *testing.T, err error, expected *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, expected.Code, appErr.Code, appErr.Message)
	assert.Equal(t, expected.Status, appErr.Status)
}

func TestSubmitGradeTeacherStartsPending(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")

	view, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 45, "F"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, view.ApprovalStatus)
	assert.False(t, view.Published)
	assert.Equal(t, "Ada", view.StudentName)
	assert.Equal(t, "T-1", view.UploadedBy)
	assert.False(t, view.SubmittedDate.IsZero())
	assert.Empty(t, f.store.alertsFor(p.ID))
	assert.Empty(t, f.store.notifications)
}

func TestSubmitGradeAdminPublishesAndFansOut(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")

	view, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 55, "c"))
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPublished, view.ApprovalStatus)
	assert.True(t, view.Published)
	assert.Equal(t, "C", view.Grade.Grade)

	alerts := f.store.alertsFor(p.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertLowGrade, alerts[0].Type)
	assert.Len(t, f.store.notificationsForStudent("SID-1"), 1)
	assert.Contains(t, f.cache.deletedPatterns, "grades:student:SID-1:*")
}

func TestSubmitGradeAdminDraftIsNotVisible(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")

	req := submitPayload("SID-1", 90, "A")
	req.Status = "draft"
	view, err := f.grades.SubmitGrade(context.Background(), adminClaims(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPublished, view.ApprovalStatus)
	assert.False(t, view.Published)
	assert.Empty(t, f.store.alertsFor(p.ID))
}

func TestSubmitGradeAdminWithoutStatusStaysUnpublished(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")

	req := submitPayload("SID-1", 88, "B")
	req.Status = ""
	view, err := f.grades.SubmitGrade(context.Background(), adminClaims(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPublished, view.ApprovalStatus)
	assert.False(t, view.Published)
	assert.Empty(t, f.store.alertsFor(p.ID))
	assert.Empty(t, f.store.notificationsForStudent("SID-1"))
}

func TestSubmitGradeRejectsUnknownStudentAndBadInput(t *testing.T) {
	f := newGradeFixture()

	_, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("NOPE", 80, "B"))
	assertAppError(t, err, appErrors.ErrValidation)
	assert.Contains(t, err.Error(), "student not found")

	f.store.addStudent("SID-1", "Ada")
	bad := submitPayload("SID-1", 120, "A")
	_, err = f.grades.SubmitGrade(context.Background(), adminClaims(), bad)
	assertAppError(t, err, appErrors.ErrValidation)

	_, err = f.grades.SubmitGrade(context.Background(), studentClaims("SID-1"), submitPayload("SID-1", 80, "B"))
	assertAppError(t, err, appErrors.ErrForbidden)
}

func TestApproveGradeScenario(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	g1 := f.approvedGuardian("SID-1", "Grace")
	g2 := f.approvedGuardian("SID-1", "Alan")

	submitted, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 45, "F"))
	require.NoError(t, err)
	assert.Empty(t, f.store.alerts)

	approved, err := f.grades.ApproveGrade(context.Background(), adminClaims(), submitted.ID)
	require.NoError(t, err)
	assert.True(t, approved.Published)
	assert.Equal(t, models.ApprovalPublished, approved.ApprovalStatus)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "ADM-1", *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovalDate)

	for _, p := range []*models.Parent{g1, g2} {
		alerts := f.store.alertsFor(p.ID)
		require.Len(t, alerts, 1)
		assert.Equal(t, models.AlertFailing, alerts[0].Type)
		assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	}

	// second approval conflicts and writes nothing
	_, err = f.grades.ApproveGrade(context.Background(), adminClaims(), submitted.ID)
	assertAppError(t, err, appErrors.ErrConflict)
	assert.Len(t, f.store.alerts, 2)
}

func TestApproveGradeMissingAndForbidden(t *testing.T) {
	f := newGradeFixture()
	_, err := f.grades.ApproveGrade(context.Background(), adminClaims(), 404)
	assertAppError(t, err, appErrors.ErrNotFound)

	_, err = f.grades.ApproveGrade(context.Background(), teacherClaims("T-1"), 1)
	assertAppError(t, err, appErrors.ErrForbidden)
}

func TestRejectGradeCreatesNoAlertsAndIsTerminal(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")
	submitted, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 30, "F"))
	require.NoError(t, err)

	rejected, err := f.grades.RejectGrade(context.Background(), adminClaims(), submitted.ID, dto.RejectGradeRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, rejected.ApprovalStatus)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, models.DefaultRejectionReason, *rejected.RejectionReason)
	assert.Empty(t, f.store.alertsFor(p.ID))

	_, err = f.grades.ApproveGrade(context.Background(), adminClaims(), submitted.ID)
	assertAppError(t, err, appErrors.ErrConflict)
	_, err = f.grades.UpdateGrade(context.Background(), adminClaims(), submitted.ID, dto.UpdateGradeRequest{Score: ptrFloat(70)})
	assertAppError(t, err, appErrors.ErrConflict)
	assert.Empty(t, f.store.alerts)
}

func TestRejectGradeKeepsGivenReason(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	submitted, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 80, "B"))
	require.NoError(t, err)

	rejected, err := f.grades.RejectGrade(context.Background(), adminClaims(), submitted.ID, dto.RejectGradeRequest{Reason: " wrong course "})
	require.NoError(t, err)
	assert.Equal(t, "wrong course", *rejected.RejectionReason)
}

func TestApproveBulkTalliesPartialFailures(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")
	first, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 80, "B"))
	require.NoError(t, err)
	published, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 85, "B"))
	require.NoError(t, err)

	result, err := f.grades.ApproveBulk(context.Background(), adminClaims(), dto.ApproveBulkRequest{GradeIDs: []int64{first.ID, 9999, published.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "grade 9999: grade not found")
	assert.Contains(t, result.Errors[1], "not pending approval")
	// one alert from the admin publish, one from the bulk approval
	assert.Len(t, f.store.alertsFor(p.ID), 2)
}

func TestSubmitBulkReportsItemErrors(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")

	result, err := f.grades.SubmitBulk(context.Background(), teacherClaims("T-1"), dto.SubmitBulkRequest{Grades: []dto.SubmitGradeRequest{
		submitPayload("SID-1", 70, "B"),
		submitPayload("MISSING", 70, "B"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0], "item 2 (MISSING CS101): student not found")

	_, err = f.grades.SubmitBulk(context.Background(), teacherClaims("T-1"), dto.SubmitBulkRequest{})
	assertAppError(t, err, appErrors.ErrValidation)
}

func TestUpdateGradeRules(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	p := f.approvedGuardian("SID-1", "Grace")
	pending, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 70, "B"))
	require.NoError(t, err)

	updated, err := f.grades.UpdateGrade(context.Background(), teacherClaims("T-1"), pending.ID, dto.UpdateGradeRequest{Score: ptrFloat(72)})
	require.NoError(t, err)
	assert.Equal(t, 72.0, updated.Score)
	assert.Equal(t, models.ApprovalPending, updated.ApprovalStatus)
	assert.Empty(t, f.store.alerts)

	_, err = f.grades.UpdateGrade(context.Background(), teacherClaims("T-2"), pending.ID, dto.UpdateGradeRequest{Score: ptrFloat(10)})
	assertAppError(t, err, appErrors.ErrForbidden)

	published, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 90, "A"))
	require.NoError(t, err)
	require.Len(t, f.store.alertsFor(p.ID), 1)

	_, err = f.grades.UpdateGrade(context.Background(), teacherClaims("ADM-1"), published.ID, dto.UpdateGradeRequest{Score: ptrFloat(10)})
	assertAppError(t, err, appErrors.ErrForbidden)

	edited, err := f.grades.UpdateGrade(context.Background(), adminClaims(), published.ID, dto.UpdateGradeRequest{Score: ptrFloat(40), Grade: strPtr("f")})
	require.NoError(t, err)
	assert.Equal(t, "F", edited.Grade.Grade)
	alerts := f.store.alertsFor(p.ID)
	require.Len(t, alerts, 2, "a republished edit is a new event")
	assert.Equal(t, models.AlertFailing, alerts[1].Type)

	published2 := true
	_, err = f.grades.UpdateGrade(context.Background(), adminClaims(), pending.ID, dto.UpdateGradeRequest{Published: &published2})
	assertAppError(t, err, appErrors.ErrConflict)

	_, err = f.grades.UpdateGrade(context.Background(), adminClaims(), 9999, dto.UpdateGradeRequest{})
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestListStudentGradesAccess(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	guardian := f.approvedGuardian("SID-1", "Grace")
	pendingParent := f.store.addParent("Pending", "SID-2", models.ParentPending, models.PreferEmail)
	_, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 90, "A"))
	require.NoError(t, err)
	_, err = f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 60, "C"))
	require.NoError(t, err)

	own, err := f.grades.ListStudentGrades(context.Background(), studentClaims("SID-1"), "SID-1")
	require.NoError(t, err)
	assert.Len(t, own, 1)

	asGuardian, err := f.grades.ListStudentGrades(context.Background(), parentClaims(guardian.ID), "SID-1")
	require.NoError(t, err)
	assert.Len(t, asGuardian, 1)

	asStaff, err := f.grades.ListStudentGrades(context.Background(), teacherClaims("T-9"), "SID-1")
	require.NoError(t, err)
	assert.Len(t, asStaff, 2)

	_, err = f.grades.ListStudentGrades(context.Background(), studentClaims("SID-2"), "SID-1")
	assertAppError(t, err, appErrors.ErrForbidden)
	_, err = f.grades.ListStudentGrades(context.Background(), parentClaims(pendingParent.ID), "SID-1")
	assertAppError(t, err, appErrors.ErrForbidden)
	_, err = f.grades.ListStudentGrades(context.Background(), adminClaims(), "MISSING")
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestListStudentGradesServesFromCache(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	_, err := f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 90, "A"))
	require.NoError(t, err)

	first, err := f.grades.ListStudentGrades(context.Background(), studentClaims("SID-1"), "SID-1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// rows written behind the service are invisible until invalidation
	f.store.addGrade(models.Grade{StudentID: "SID-1", CourseCode: "CS999", Published: true, ApprovalStatus: models.ApprovalPublished})
	cached, err := f.grades.ListStudentGrades(context.Background(), studentClaims("SID-1"), "SID-1")
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	_, err = f.grades.SubmitGrade(context.Background(), adminClaims(), submitPayload("SID-1", 70, "B"))
	require.NoError(t, err)
	fresh, err := f.grades.ListStudentGrades(context.Background(), studentClaims("SID-1"), "SID-1")
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestListPendingReturnsPagination(t *testing.T) {
	f := newGradeFixture()
	f.store.addStudent("SID-1", "Ada")
	_, err := f.grades.SubmitGrade(context.Background(), teacherClaims("T-1"), submitPayload("SID-1", 70, "B"))
	require.NoError(t, err)

	items, pagination, err := f.grades.ListPending(context.Background(), models.PendingGradeFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, models.DefaultPageSize, pagination.PageSize)
}

func strPtr(v string) *string { return &v }
