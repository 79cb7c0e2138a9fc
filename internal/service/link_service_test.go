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

type stubHasher struct {
	err error
}

func (h stubHasher) Hash(password string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + password, nil
}

type linkFixture struct {
	*fanoutFixture
	links *LinkService
}

func newLinkFixture() *linkFixture {
	f := newFanoutFixture()
	svc := NewLinkService(&passthroughTx{}, fakeLinks{f.store}, fakeParents{f.store}, fakeStudents{f.store}, f.svc, stubHasher{}, nil, nil)
	return &linkFixture{fanoutFixture: f, links: svc}
}

func registration(name, email, studentID string) dto.RegisterParentRequest {
	return dto.RegisterParentRequest{FullName: name, Email: email, Password: "password123", StudentID: studentID}
}

func TestRegisterParentCreatesPendingAccountAndLink(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-1", "Ada")

	res, err := f.links.RegisterParent(context.Background(), registration(" Grace Hopper ", "Grace@Example.com", "SID-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ParentPending, res.Parent.Status)
	assert.Equal(t, "grace@example.com", res.Parent.Email)
	assert.Equal(t, "Grace Hopper", res.Parent.FullName)
	assert.Equal(t, models.PreferEmail, res.Parent.NotificationPreference)
	assert.Equal(t, "hashed:password123", res.Parent.PasswordHash)
	assert.Equal(t, models.LinkPending, res.Link.Status)
	assert.Equal(t, res.Parent.ID, res.Link.ParentID)
	assert.Equal(t, models.LinkedBySystem, res.Link.LinkedBy)
	assert.Contains(t, f.store.locked, "SID-1")

	_, err = f.links.RegisterParent(context.Background(), registration("Other", "grace@example.com", "SID-1"))
	assertAppError(t, err, appErrors.ErrConflict)
}

func TestRegisterParentValidation(t *testing.T) {
	f := newLinkFixture()
	_, err := f.links.RegisterParent(context.Background(), registration("Grace", "not-an-email", "SID-1"))
	assertAppError(t, err, appErrors.ErrValidation)

	_, err = f.links.RegisterParent(context.Background(), registration("Grace", "grace@example.com", "MISSING"))
	assertAppError(t, err, appErrors.ErrValidation)
	assert.Empty(t, f.store.parents)

	f.store.addStudent("SID-1", "Ada")
	f.links.hasher = stubHasher{err: errors.New("too long")}
	_, err = f.links.RegisterParent(context.Background(), registration("Grace", "grace@example.com", "SID-1"))
	assertAppError(t, err, appErrors.ErrValidation)
}

func TestRequestLinkRejectsSecondFamily(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-2", "Bob")
	p1 := f.store.addParent("Parent One", "SID-1", models.ParentApproved, models.PreferEmail)
	p2 := f.store.addParent("Parent Two", "SID-9", models.ParentApproved, models.PreferEmail)

	link, err := f.links.RequestLink(context.Background(), parentClaims(p1.ID), dto.RequestLinkRequest{StudentID: "SID-2"})
	require.NoError(t, err)
	assert.Equal(t, models.LinkPending, link.Status)

	_, err = f.links.RequestLink(context.Background(), parentClaims(p2.ID), dto.RequestLinkRequest{StudentID: "SID-2"})
	assertAppError(t, err, appErrors.ErrConflict)
	assert.Equal(t, msgAnotherFamily, appErrors.FromError(err).Message)

	_, err = f.links.RequestLink(context.Background(), parentClaims(p1.ID), dto.RequestLinkRequest{StudentID: "SID-2"})
	assertAppError(t, err, appErrors.ErrConflict)
	assert.Equal(t, "link already requested", appErrors.FromError(err).Message)

	assert.Len(t, f.store.linksFor("SID-2"), 1)
}

func TestRequestLinkChecksCaller(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-2", "Bob")

	_, err := f.links.RequestLink(context.Background(), studentClaims("SID-2"), dto.RequestLinkRequest{StudentID: "SID-2"})
	assertAppError(t, err, appErrors.ErrForbidden)

	_, err = f.links.RequestLink(context.Background(), parentClaims(404), dto.RequestLinkRequest{StudentID: "SID-2"})
	assertAppError(t, err, appErrors.ErrNotFound)

	p := f.store.addParent("Parent One", "SID-1", models.ParentApproved, models.PreferEmail)
	_, err = f.links.RequestLink(context.Background(), parentClaims(p.ID), dto.RequestLinkRequest{StudentID: "NOPE"})
	assertAppError(t, err, appErrors.ErrValidation)
}

func TestDeletedParentOrphanIsHealedOnRegistration(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-3", "Cy")
	p1 := f.store.addParent("Parent One", "SID-3", models.ParentApproved, models.PreferEmail)
	f.store.addLink(p1.ID, "SID-3", models.LinkApproved)

	// parent row vanishes without its link
	delete(f.store.parents, p1.ID)

	res, err := f.links.RegisterParent(context.Background(), registration("Parent Three", "p3@example.com", "SID-3"))
	require.NoError(t, err)
	links := f.store.linksFor("SID-3")
	require.Len(t, links, 1)
	assert.Equal(t, res.Parent.ID, links[0].ParentID)
	assert.Equal(t, models.LinkPending, links[0].Status)
}

func TestDeleteParentRemovesLinksThenRegistrationSucceeds(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-3", "Cy")
	p1 := f.store.addParent("Parent One", "SID-3", models.ParentApproved, models.PreferEmail)
	f.store.addLink(p1.ID, "SID-3", models.LinkApproved)

	require.NoError(t, f.links.DeleteParent(context.Background(), adminClaims(), p1.ID))
	assert.Empty(t, f.store.linksFor("SID-3"))
	assert.NotContains(t, f.store.parents, p1.ID)

	_, err := f.links.RegisterParent(context.Background(), registration("Parent Three", "p3@example.com", "SID-3"))
	require.NoError(t, err)

	err = f.links.DeleteParent(context.Background(), adminClaims(), p1.ID)
	assertAppError(t, err, appErrors.ErrNotFound)
	err = f.links.DeleteParent(context.Background(), teacherClaims("T-1"), p1.ID)
	assertAppError(t, err, appErrors.ErrForbidden)
}

func TestApproveLinkApprovesParentAndNotifiesOnce(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-1", "Ada")
	res, err := f.links.RegisterParent(context.Background(), registration("Grace", "grace@example.com", "SID-1"))
	require.NoError(t, err)

	link, err := f.links.ApproveLink(context.Background(), adminClaims(), res.Link.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkApproved, link.Status)
	assert.Equal(t, "ADM-1", link.LinkedBy)
	require.NotNil(t, link.ApprovedDate)
	assert.Equal(t, models.ParentApproved, f.store.parents[res.Parent.ID].Status)

	notes := f.store.notificationsForParent(res.Parent.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationAccountApproved, notes[0].Type)
	assert.Empty(t, f.store.notificationsForStudent("SID-1"))

	_, err = f.links.ApproveLink(context.Background(), adminClaims(), res.Link.ID)
	assertAppError(t, err, appErrors.ErrConflict)
	_, err = f.links.RejectLink(context.Background(), adminClaims(), res.Link.ID)
	assertAppError(t, err, appErrors.ErrConflict)
	assert.Len(t, f.store.notificationsForParent(res.Parent.ID), 1)
}

func TestRejectLinkLeavesParentStatus(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-1", "Ada")
	res, err := f.links.RegisterParent(context.Background(), registration("Grace", "grace@example.com", "SID-1"))
	require.NoError(t, err)

	link, err := f.links.RejectLink(context.Background(), adminClaims(), res.Link.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LinkRejected, link.Status)
	require.NotNil(t, link.RejectedDate)
	assert.Equal(t, models.ParentPending, f.store.parents[res.Parent.ID].Status)
	assert.Empty(t, f.store.notifications)

	_, err = f.links.RejectLink(context.Background(), adminClaims(), 404)
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestApproveOrphanLinkRemovesIt(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-1", "Ada")
	orphan := f.store.addLink(999, "SID-1", models.LinkPending)

	_, err := f.links.ApproveLink(context.Background(), adminClaims(), orphan.ID)
	assertAppError(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.store.linksFor("SID-1"))
	assert.Empty(t, f.store.notifications)
}

func TestDeleteLinkRemovesParentAndOrphans(t *testing.T) {
	f := newLinkFixture()
	f.store.addStudent("SID-1", "Ada")
	f.store.addStudent("SID-2", "Bob")
	p := f.store.addParent("Grace", "SID-1", models.ParentApproved, models.PreferEmail)
	first := f.store.addLink(p.ID, "SID-1", models.LinkApproved)
	f.store.addLink(p.ID, "SID-2", models.LinkPending)

	require.NoError(t, f.links.DeleteLink(context.Background(), adminClaims(), first.ID))
	assert.Empty(t, f.store.links)
	assert.Empty(t, f.store.parents)

	orphan := f.store.addLink(777, "SID-1", models.LinkApproved)
	require.NoError(t, f.links.DeleteLink(context.Background(), adminClaims(), orphan.ID))
	assert.Empty(t, f.store.links)

	err := f.links.DeleteLink(context.Background(), adminClaims(), orphan.ID)
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestRepairOrphans(t *testing.T) {
	f := newLinkFixture()
	live := f.store.addParent("Grace", "SID-1", models.ParentApproved, models.PreferEmail)
	f.store.addLink(live.ID, "SID-1", models.LinkApproved)
	f.store.addLink(555, "SID-2", models.LinkApproved)

	_, err := f.links.RepairOrphans(context.Background(), adminClaims(), dto.RepairOrphansRequest{})
	assertAppError(t, err, appErrors.ErrValidation)
	_, err = f.links.RepairOrphans(context.Background(), parentClaims(live.ID), dto.RepairOrphansRequest{StudentID: "SID-2"})
	assertAppError(t, err, appErrors.ErrForbidden)

	res, err := f.links.RepairOrphans(context.Background(), adminClaims(), dto.RepairOrphansRequest{StudentID: "SID-1"})
	require.NoError(t, err)
	assert.False(t, res.Cleaned)

	res, err = f.links.RepairOrphans(context.Background(), adminClaims(), dto.RepairOrphansRequest{ParentID: 555})
	require.NoError(t, err)
	assert.True(t, res.Cleaned)
	assert.EqualValues(t, 1, res.Removed)
	assert.Len(t, f.store.links, 1)
}

func TestListLinksValidatesStatus(t *testing.T) {
	f := newLinkFixture()
	p := f.store.addParent("Grace", "SID-1", models.ParentApproved, models.PreferEmail)
	f.store.addLink(p.ID, "SID-1", models.LinkApproved)
	f.store.addLink(p.ID, "SID-2", models.LinkPending)

	_, _, err := f.links.ListLinks(context.Background(), models.LinkFilter{Status: "bogus"})
	assertAppError(t, err, appErrors.ErrValidation)

	items, page, err := f.links.ListLinks(context.Background(), models.LinkFilter{Status: models.LinkPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "SID-2", items[0].StudentID)
	assert.Equal(t, 1, page.TotalCount)
}
