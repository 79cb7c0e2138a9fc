package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/database"
	"github.com/noah-isme/grade-portal/pkg/delivery"
	"github.com/noah-isme/grade-portal/pkg/jobs"
)

// DeliveryJobType identifies queued guardian deliveries.
const DeliveryJobType = "guardian_delivery"

// txRunner runs fn in a transaction, or a savepoint when ctx already carries one.
type txRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type guardianResolver interface {
	ApprovedGuardians(ctx context.Context, studentID string) ([]models.Guardian, error)
}

type alertWriter interface {
	Create(ctx context.Context, alert *models.Alert) error
}

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
}

// Deliverer is the external delivery collaborator. It never fails the caller.
type Deliverer interface {
	Send(ctx context.Context, to delivery.Recipient, msg delivery.Message) delivery.Result
}

// Pusher pushes a stored notification to connected clients of its recipient.
type Pusher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DeliveryJob is the queued payload of one guardian delivery.
type DeliveryJob struct {
	Recipient delivery.Recipient
	Message   delivery.Message
	ParentID  int64
	GradeID   int64
}

// FanoutService creates guardian alerts and notifications for grade events and dispatches external deliveries.
type FanoutService struct {
	tx            txRunner
	guardians     guardianResolver
	alerts        alertWriter
	notifications notificationWriter
	deliverer     Deliverer
	pusher        Pusher
	queue         jobEnqueuer
	metrics       *MetricsService
	timeout       time.Duration
	logger        *zap.Logger
}

// FanoutOption configures optional collaborators.
type FanoutOption func(*FanoutService)

// WithDeliveryQueue makes external deliveries asynchronous.
func WithDeliveryQueue(q jobEnqueuer) FanoutOption {
	return func(s *FanoutService) { s.queue = q }
}

// WithPusher enables realtime push after commit.
func WithPusher(p Pusher) FanoutOption {
	return func(s *FanoutService) { s.pusher = p }
}

// WithFanoutMetrics records fan-out metrics.
func WithFanoutMetrics(m *MetricsService) FanoutOption {
	return func(s *FanoutService) { s.metrics = m }
}

// WithDeliveryTimeout bounds each inline delivery.
func WithDeliveryTimeout(d time.Duration) FanoutOption {
	return func(s *FanoutService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewFanoutService constructs the fan-out service.
func NewFanoutService(tx txRunner, guardians guardianResolver, alerts alertWriter, notifications notificationWriter, deliverer Deliverer, logger *zap.Logger, opts ...FanoutOption) *FanoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FanoutService{
		tx:            tx,
		guardians:     guardians,
		alerts:        alerts,
		notifications: notifications,
		deliverer:     deliverer,
		timeout:       10 * time.Second,
		logger:        logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type fanoutGuardKey struct{}

type fanoutGuard struct {
	mu   sync.Mutex
	seen map[int64]struct{}
}

// WithFanoutGuard returns a context in which each grade fans out at most once.
func WithFanoutGuard(ctx context.Context) context.Context {
	if _, ok := ctx.Value(fanoutGuardKey{}).(*fanoutGuard); ok {
		return ctx
	}
	return context.WithValue(ctx, fanoutGuardKey{}, &fanoutGuard{seen: map[int64]struct{}{}})
}

func claimFanout(ctx context.Context, gradeID int64) bool {
	guard, ok := ctx.Value(fanoutGuardKey{}).(*fanoutGuard)
	if !ok {
		return true
	}
	guard.mu.Lock()
	defer guard.mu.Unlock()
	if _, dup := guard.seen[gradeID]; dup {
		return false
	}
	guard.seen[gradeID] = struct{}{}
	return true
}

// NotifyGuardiansOfGrade writes the student's notice and one alert plus one notification per approved guardian.
// Each recipient is written in its own savepoint; failures are logged and never returned.
// Deliveries and realtime pushes run once the surrounding transaction commits.
func (s *FanoutService) NotifyGuardiansOfGrade(ctx context.Context, grade *models.Grade, student *models.Student) {
	if grade == nil || student == nil {
		return
	}
	if !claimFanout(ctx, grade.ID) {
		s.logger.Debug("fan-out already performed for grade in this request", zap.Int64("grade_id", grade.ID))
		return
	}
	log := s.logger.With(zap.Int64("grade_id", grade.ID), zap.String("student_id", grade.StudentID))
	c := Classify(grade.Score, grade.Grade)

	// The student's own notice is written before any guardian row.
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		text := studentNotice(c, grade)
		studentID := grade.StudentID
		return s.storeNotification(ctx, &models.Notification{
			StudentID: &studentID,
			Type:      c.StudentNotificationType(),
			Title:     text.Title,
			Message:   text.Message,
		})
	})
	if err != nil {
		s.fail(log, "student notification failed", err)
	}

	// A failed read aborts the enclosing postgres transaction unless it runs in a savepoint.
	var guardians []models.Guardian
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		guardians, err = s.guardians.ApprovedGuardians(ctx, grade.StudentID)
		return err
	})
	if err != nil {
		s.fail(log, "resolve guardians failed", err)
		return
	}

	for i := range guardians {
		guardian := guardians[i]
		glog := log.With(zap.Int64("parent_id", guardian.ID))
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.notifyGuardian(ctx, c, grade, student, &guardian)
		})
		if err != nil {
			s.fail(glog, "guardian fan-out failed", err)
		}
	}
}

func (s *FanoutService) notifyGuardian(ctx context.Context, c Classification, grade *models.Grade, student *models.Student, guardian *models.Guardian) error {
	text := guardianAlert(c, grade, student.FullName)
	gradeID := grade.ID
	courseCode := grade.CourseCode
	alert := &models.Alert{
		StudentID:  grade.StudentID,
		ParentID:   guardian.ID,
		GradeID:    &gradeID,
		CourseCode: &courseCode,
		Type:       c.Type,
		Severity:   c.Severity,
		Title:      text.Title,
		Message:    text.Message,
		SentVia:    c.SentVia(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	database.AfterCommit(ctx, func() { s.metrics.RecordAlert(c) })

	parentID := guardian.ID
	if err := s.storeNotification(ctx, &models.Notification{
		ParentID: &parentID,
		Type:     models.NotificationGradeUpdate,
		Title:    text.Title,
		Message:  text.Message,
	}); err != nil {
		return err
	}

	job := DeliveryJob{
		Recipient: guardianRecipient(&guardian.Parent),
		Message:   guardianEmail(c, grade, student.FullName, guardian.FullName),
		ParentID:  guardian.ID,
		GradeID:   grade.ID,
	}
	database.AfterCommit(ctx, func() { s.dispatch(ctx, job) })
	return nil
}

// NotifyAccountApproved tells a guardian, and only the guardian, that their link was approved.
func (s *FanoutService) NotifyAccountApproved(ctx context.Context, parent *models.Parent, studentID string) {
	if parent == nil {
		return
	}
	log := s.logger.With(zap.Int64("parent_id", parent.ID))
	text, msg := accountApprovedNotice(parent, studentID)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		parentID := parent.ID
		if err := s.storeNotification(ctx, &models.Notification{
			ParentID: &parentID,
			Type:     models.NotificationAccountApproved,
			Title:    text.Title,
			Message:  text.Message,
		}); err != nil {
			return err
		}
		job := DeliveryJob{Recipient: guardianRecipient(parent), Message: msg, ParentID: parent.ID}
		database.AfterCommit(ctx, func() { s.dispatch(ctx, job) })
		return nil
	})
	if err != nil {
		s.fail(log, "account approved notification failed", err)
	}
}

// storeNotification persists n and schedules its realtime push.
func (s *FanoutService) storeNotification(ctx context.Context, n *models.Notification) error {
	if err := s.notifications.Create(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	database.AfterCommit(ctx, func() {
		s.metrics.RecordNotification(n.Type)
		s.push(ctx, n)
	})
	return nil
}

func (s *FanoutService) push(ctx context.Context, n *models.Notification) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.Publish(context.WithoutCancel(ctx), n); err != nil {
		s.logger.Warn("realtime push failed", zap.Int64("notification_id", n.ID), zap.String("recipient", n.RecipientKey()), zap.Error(err))
	}
}

// dispatch hands the delivery to the queue, or sends it inline with a bounded timeout.
func (s *FanoutService) dispatch(ctx context.Context, job DeliveryJob) {
	if s.deliverer == nil {
		return
	}
	if s.queue != nil {
		err := s.queue.Enqueue(jobs.Job{Type: DeliveryJobType, Payload: job})
		if err == nil {
			return
		}
		s.logger.Warn("delivery queue unavailable, sending inline", zap.Int64("parent_id", job.ParentID), zap.Error(err))
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	s.deliver(sendCtx, job)
}

// HandleDeliveryJob is the queue handler for DeliveryJobType. It returns an error only when every channel failed.
func (s *FanoutService) HandleDeliveryJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(DeliveryJob)
	if !ok {
		s.logger.Error("unexpected delivery job payload", zap.String("job_id", job.ID))
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.deliver(sendCtx, payload)
	if len(result.Attempts) > 0 && !anySucceeded(result) {
		return errors.New(result.Error())
	}
	return nil
}

func (s *FanoutService) deliver(ctx context.Context, job DeliveryJob) delivery.Result {
	result := s.deliverer.Send(ctx, job.Recipient, job.Message)
	if !result.Success {
		s.logger.Warn("guardian delivery failed",
			zap.Int64("parent_id", job.ParentID), zap.Int64("grade_id", job.GradeID), zap.String("error", result.Error()))
	}
	return result
}

func (s *FanoutService) fail(log *zap.Logger, msg string, err error) {
	s.metrics.RecordFanoutFailure()
	log.Error(msg, zap.Error(err))
}

func anySucceeded(r delivery.Result) bool {
	for _, a := range r.Attempts {
		if a.Err == nil {
			return true
		}
	}
	return false
}

func guardianRecipient(p *models.Parent) delivery.Recipient {
	r := delivery.Recipient{
		Name:       p.FullName,
		Email:      p.Email,
		Preference: delivery.Preference(p.NotificationPreference),
	}
	if p.Phone != nil {
		r.Phone = *p.Phone
	}
	if !r.Preference.Valid() {
		r.Preference = delivery.PreferenceEmail
	}
	return r
}
