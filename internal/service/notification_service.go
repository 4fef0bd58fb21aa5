package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/pkg/jobs"
)

const (
	jobTypePasswordReset = "password_reset_mail"

	defaultEnqueueTimeout = 2 * time.Second
)

// MailSender delivers rendered mails.
type MailSender interface {
	SendPasswordReset(ctx context.Context, email, name, link string) error
}

type passwordResetMail struct {
	Email string
	Name  string
	Link  string
}

// NotificationService sends outbound mail through a background queue so a
// slow or failing provider never blocks the request.
type NotificationService struct {
	sender         MailSender
	queue          *jobs.Queue
	metrics        *MetricsService
	logger         *zap.Logger
	enqueueTimeout time.Duration
}

// NewNotificationService builds the service and its queue. Start must be called
// before notifications are accepted.
func NewNotificationService(sender MailSender, queueCfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, metrics: metrics, logger: logger, enqueueTimeout: defaultEnqueueTimeout}
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	s.queue = jobs.NewQueue("mail", s.handle, queueCfg)
	return s
}

// WithEnqueueTimeout bounds how long NotifyPasswordReset waits for room in a
// full queue.
func (s *NotificationService) WithEnqueueTimeout(d time.Duration) *NotificationService {
	if d > 0 {
		s.enqueueTimeout = d
	}
	return s
}

// Start launches the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyPasswordReset queues the reset link for delivery. It returns
// jobs.ErrQueueFull when the queue has no room before ctx ends or the enqueue
// timeout passes.
func (s *NotificationService) NotifyPasswordReset(ctx context.Context, email, name, link string) error {
	ctx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()
	return s.queue.Enqueue(ctx, jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypePasswordReset,
		Payload: passwordResetMail{Email: email, Name: name, Link: link},
	})
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobTypePasswordReset:
		mail, ok := job.Payload.(passwordResetMail)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		err := s.sender.SendPasswordReset(ctx, mail.Email, mail.Name, mail.Link)
		s.metrics.RecordMailDelivery(err == nil)
		return err
	default:
		s.logger.Warn("dropping unknown mail job", zap.String("type", job.Type))
		return nil
	}
}
