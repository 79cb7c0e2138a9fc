package service

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/internal/repository"
	"github.com/noah-isme/grade-portal/pkg/delivery"
)

// memStore is an in-memory stand-in for the portal tables shared by the fakes below.
type memStore struct {
	mu            sync.Mutex
	nextID        int64
	students      map[string]*models.Student
	officialIDs   map[string]bool
	parents       map[int64]*models.Parent
	links         map[int64]*models.ParentStudentLink
	grades        map[int64]*models.Grade
	alerts        []models.Alert
	notifications []models.Notification
	locked        []string

	alertErrFor map[int64]error
	gradeErr    error
	guardianErr error
}

func newMemStore() *memStore {
	return &memStore{
		students:    map[string]*models.Student{},
		officialIDs: map[string]bool{},
		parents:     map[int64]*models.Parent{},
		links:       map[int64]*models.ParentStudentLink{},
		grades:      map[int64]*models.Grade{},
		alertErrFor: map[int64]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addStudent(studentID, name string) *models.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.Student{ID: m.id(), StudentID: studentID, FullName: name, Department: "CS", Year: 1, Semester: 1}
	m.students[studentID] = s
	return s
}

func (m *memStore) addParent(name, studentID string, status models.ParentStatus, pref models.NotificationPreference) *models.Parent {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Parent{
		ID:                     m.id(),
		FullName:               name,
		Email:                  strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		NotificationPreference: pref,
		Status:                 status,
		StudentID:              studentID,
	}
	m.parents[p.ID] = p
	return p
}

func (m *memStore) addLink(parentID int64, studentID string, status models.LinkStatus) *models.ParentStudentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.ParentStudentLink{ID: m.id(), ParentID: parentID, StudentID: studentID, Status: status, LinkedBy: models.LinkedBySystem}
	m.links[l.ID] = l
	return l
}

func (m *memStore) addGrade(g models.Grade) *models.Grade {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.id()
	m.grades[g.ID] = &g
	return &g
}

func (m *memStore) linksFor(studentID string) []models.ParentStudentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ParentStudentLink
	for _, id := range m.sortedLinkIDs() {
		if l := m.links[id]; l.StudentID == studentID {
			out = append(out, *l)
		}
	}
	return out
}

func (m *memStore) alertsFor(parentID int64) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Alert
	for _, a := range m.alerts {
		if a.ParentID == parentID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) notificationsForParent(parentID int64) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, n)
		}
	}
	return out
}

func (m *memStore) notificationsForStudent(studentID string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.StudentID != nil && *n.StudentID == studentID {
			out = append(out, n)
		}
	}
	return out
}

func (m *memStore) sortedLinkIDs() []int64 {
	ids := make([]int64, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *memStore) sortedGradeIDs() []int64 {
	ids := make([]int64, 0, len(m.grades))
	for id := range m.grades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// passthroughTx runs fn without a database transaction, so after-commit hooks fire immediately.
type passthroughTx struct {
	calls int
}

func (p *passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	p.calls++
	return fn(ctx)
}

type fakeStudents struct{ *memStore }

func (f fakeStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Student
	for _, s := range f.students {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, len(out), nil
}

func (f fakeStudents) FindByStudentID(ctx context.Context, studentID string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (f fakeStudents) ExistsByStudentID(ctx context.Context, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.students[studentID]
	return ok, nil
}

func (f fakeStudents) Create(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.students[student.StudentID]; ok {
		return repository.ErrUniqueViolation
	}
	student.ID = f.id()
	clone := *student
	f.students[student.StudentID] = &clone
	return nil
}

func (f fakeStudents) DeleteByStudentID(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.students[studentID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.students, studentID)
	return nil
}

func (f fakeStudents) MarkOfficialIDUsed(ctx context.Context, studentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.officialIDs[studentID]; !ok {
		return false, nil
	}
	f.officialIDs[studentID] = true
	return true, nil
}

func (f fakeStudents) ResetOfficialID(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.officialIDs[studentID]; ok {
		f.officialIDs[studentID] = false
	}
	return nil
}

type fakeParents struct{ *memStore }

func (f fakeParents) FindByID(ctx context.Context, id int64) (*models.Parent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *p
	return &clone, nil
}

func (f fakeParents) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.parents {
		if strings.EqualFold(p.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeParents) Create(ctx context.Context, parent *models.Parent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent.ID = f.id()
	clone := *parent
	f.parents[parent.ID] = &clone
	return nil
}

func (f fakeParents) UpdateStatus(ctx context.Context, id int64, status models.ParentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parents[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = status
	return nil
}

func (f fakeParents) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.parents[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.parents, id)
	return nil
}

type fakeLinks struct{ *memStore }

func (f fakeLinks) LockStudent(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, studentID)
	return nil
}

func (f fakeLinks) Create(ctx context.Context, link *models.ParentStudentLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.StudentID == link.StudentID {
			return repository.ErrUniqueViolation
		}
	}
	link.ID = f.id()
	clone := *link
	f.links[link.ID] = &clone
	return nil
}

func (f fakeLinks) FindByID(ctx context.Context, id int64) (*models.ParentStudentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *l
	return &clone, nil
}

func (f fakeLinks) FindByStudent(ctx context.Context, studentID string) ([]models.ParentStudentLink, error) {
	return f.linksFor(studentID), nil
}

func (f fakeLinks) ExistsForPair(ctx context.Context, parentID int64, studentID string) (bool, error) {
	for _, l := range f.linksFor(studentID) {
		if l.ParentID == parentID {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeLinks) HasApprovedLink(ctx context.Context, parentID int64, studentID string) (bool, error) {
	for _, l := range f.linksFor(studentID) {
		if l.ParentID == parentID && l.Status == models.LinkApproved {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeLinks) Resolve(ctx context.Context, id int64, status models.LinkStatus, linkedBy string, at time.Time) (*models.ParentStudentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[id]
	if !ok || l.Status != models.LinkPending {
		return nil, sql.ErrNoRows
	}
	l.Status = status
	if status == models.LinkApproved {
		l.ApprovedDate = &at
		l.LinkedBy = linkedBy
	} else {
		l.RejectedDate = &at
	}
	clone := *l
	return &clone, nil
}

func (f fakeLinks) deleteWhere(match func(*models.ParentStudentLink) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, l := range f.links {
		if match(l) {
			delete(f.links, id)
			removed++
		}
	}
	return removed
}

func (f fakeLinks) orphan(l *models.ParentStudentLink) bool {
	_, ok := f.parents[l.ParentID]
	return !ok
}

func (f fakeLinks) DeleteOrphansByStudent(ctx context.Context, studentID string) (int64, error) {
	return f.deleteWhere(func(l *models.ParentStudentLink) bool { return l.StudentID == studentID && f.orphan(l) }), nil
}

func (f fakeLinks) DeleteOrphansByParent(ctx context.Context, parentID int64) (int64, error) {
	return f.deleteWhere(func(l *models.ParentStudentLink) bool { return l.ParentID == parentID && f.orphan(l) }), nil
}

func (f fakeLinks) DeleteByParent(ctx context.Context, parentID int64) (int64, error) {
	return f.deleteWhere(func(l *models.ParentStudentLink) bool { return l.ParentID == parentID }), nil
}

func (f fakeLinks) DeleteByStudent(ctx context.Context, studentID string) error {
	f.deleteWhere(func(l *models.ParentStudentLink) bool { return l.StudentID == studentID })
	return nil
}

func (f fakeLinks) ApprovedGuardians(ctx context.Context, studentID string) ([]models.Guardian, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.guardianErr != nil {
		return nil, f.guardianErr
	}
	var out []models.Guardian
	for _, id := range f.sortedLinkIDs() {
		l := f.links[id]
		if l.StudentID != studentID || l.Status != models.LinkApproved {
			continue
		}
		if p, ok := f.parents[l.ParentID]; ok {
			out = append(out, models.Guardian{Parent: *p, LinkID: l.ID})
		}
	}
	return out, nil
}

func (f fakeLinks) List(ctx context.Context, filter models.LinkFilter) ([]models.LinkDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LinkDetail
	for _, id := range f.sortedLinkIDs() {
		l := f.links[id]
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.StudentID != "" && l.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.LinkDetail{ParentStudentLink: *l})
	}
	return out, len(out), nil
}

type fakeGrades struct{ *memStore }

func (f fakeGrades) view(g *models.Grade) *models.GradeView {
	v := &models.GradeView{Grade: *g}
	if s, ok := f.students[g.StudentID]; ok {
		v.StudentName = s.FullName
	}
	return v
}

func (f fakeGrades) Create(ctx context.Context, grade *models.Grade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gradeErr != nil {
		return f.gradeErr
	}
	grade.ID = f.id()
	clone := *grade
	f.grades[grade.ID] = &clone
	return nil
}

func (f fakeGrades) FindByID(ctx context.Context, id int64) (*models.GradeView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return f.view(g), nil
}

func (f fakeGrades) Approve(ctx context.Context, id int64, approvedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok || g.ApprovalStatus != models.ApprovalPending {
		return sql.ErrNoRows
	}
	g.ApprovalStatus = models.ApprovalPublished
	g.Published = true
	g.ApprovedBy = &approvedBy
	g.ApprovalDate = &at
	return nil
}

func (f fakeGrades) Reject(ctx context.Context, id int64, reason string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok || g.ApprovalStatus != models.ApprovalPending {
		return sql.ErrNoRows
	}
	g.ApprovalStatus = models.ApprovalRejected
	g.Published = false
	g.RejectionReason = &reason
	return nil
}

func (f fakeGrades) Update(ctx context.Context, grade *models.Grade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[grade.ID]
	if !ok || g.ApprovalStatus == models.ApprovalRejected {
		return sql.ErrNoRows
	}
	clone := *grade
	f.grades[grade.ID] = &clone
	return nil
}

func (f fakeGrades) ListByStudent(ctx context.Context, studentID string, publishedOnly bool) ([]models.GradeView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GradeView
	for _, id := range f.sortedGradeIDs() {
		g := f.grades[id]
		if g.StudentID != studentID {
			continue
		}
		if publishedOnly && (!g.Published || g.ApprovalStatus != models.ApprovalPublished) {
			continue
		}
		out = append(out, *f.view(g))
	}
	return out, nil
}

func (f fakeGrades) ListPublished(ctx context.Context, studentID string) ([]models.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Grade
	for _, id := range f.sortedGradeIDs() {
		g := f.grades[id]
		if !g.Published || g.ApprovalStatus != models.ApprovalPublished {
			continue
		}
		if studentID != "" && g.StudentID != studentID {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (f fakeGrades) ListPending(ctx context.Context, filter models.PendingGradeFilter) ([]models.GradeView, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GradeView
	for _, id := range f.sortedGradeIDs() {
		if g := f.grades[id]; g.ApprovalStatus == models.ApprovalPending {
			out = append(out, *f.view(g))
		}
	}
	return out, len(out), nil
}

func (f fakeGrades) DeleteByStudent(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, g := range f.grades {
		if g.StudentID == studentID {
			delete(f.grades, id)
		}
	}
	return nil
}

type fakeAlerts struct{ *memStore }

func (f fakeAlerts) Create(ctx context.Context, alert *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.alertErrFor[alert.ParentID]; err != nil {
		return err
	}
	alert.ID = f.id()
	alert.CreatedAt = time.Now()
	f.alerts = append(f.alerts, *alert)
	return nil
}

func (f fakeAlerts) Exists(ctx context.Context, gradeID, parentID int64, alertType models.AlertType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.GradeID != nil && *a.GradeID == gradeID && a.ParentID == parentID && a.Type == alertType {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeAlerts) ListByParent(ctx context.Context, filter models.AlertFilter) ([]models.Alert, int, error) {
	var out []models.Alert
	for _, a := range f.alertsFor(filter.ParentID) {
		if filter.UnreadOnly && a.IsRead {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (f fakeAlerts) MarkRead(ctx context.Context, id, parentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.alerts {
		if f.alerts[i].ID == id && f.alerts[i].ParentID == parentID {
			f.alerts[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeAlerts) DeleteByStudent(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.alerts[:0]
	for _, a := range f.alerts {
		if a.StudentID != studentID {
			kept = append(kept, a)
		}
	}
	f.alerts = kept
	return nil
}

type fakeNotifications struct{ *memStore }

func (f fakeNotifications) Create(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = f.id()
	n.CreatedAt = time.Now()
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f fakeNotifications) FindByID(ctx context.Context, id int64) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.ID == id {
			clone := n
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeNotifications) matching(filter models.NotificationFilter) []models.Notification {
	if filter.StudentID != "" {
		return f.notificationsForStudent(filter.StudentID)
	}
	return f.notificationsForParent(filter.ParentID)
}

func (f fakeNotifications) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, n := range f.matching(filter) {
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (f fakeNotifications) CountUnread(ctx context.Context, filter models.NotificationFilter) (int, error) {
	count := 0
	for _, n := range f.matching(filter) {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (f fakeNotifications) MarkRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeNotifications) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == id {
			f.notifications = append(f.notifications[:i], f.notifications[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeNotifications) DeleteByStudent(ctx context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.notifications[:0]
	for _, n := range f.notifications {
		if n.StudentID == nil || *n.StudentID != studentID {
			kept = append(kept, n)
		}
	}
	f.notifications = kept
	return nil
}

type sentMessage struct {
	To  delivery.Recipient
	Msg delivery.Message
}

// recordingDeliverer captures external deliveries. failFor makes sends to an email address fail.
type recordingDeliverer struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]bool
}

func (d *recordingDeliverer) Send(ctx context.Context, to delivery.Recipient, msg delivery.Message) delivery.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentMessage{To: to, Msg: msg})
	if d.failFor[to.Email] {
		return delivery.Result{Attempts: []delivery.Attempt{{Channel: delivery.ChannelEmail, Err: context.DeadlineExceeded}}}
	}
	return delivery.Result{Success: true, Attempts: []delivery.Attempt{{Channel: delivery.ChannelEmail}}}
}

func (d *recordingDeliverer) messages() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sent...)
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []string
}

func (p *recordingPusher) Publish(ctx context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, n.RecipientKey())
	return nil
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "ADM-1", Role: models.RoleAdmin, FullName: "Admin"}
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher, FullName: "Teacher " + id}
}

func studentClaims(studentID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: studentID, Role: models.RoleStudent}
}

func parentClaims(id int64) *models.JWTClaims {
	return &models.JWTClaims{UserID: strconv.FormatInt(id, 10), Role: models.RoleParent}
}

func ptrFloat(v float64) *float64 { return &v }
