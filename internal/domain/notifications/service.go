package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"appraisal/internal/domain/appraisal"
	"appraisal/internal/platform/jobs"
)

type Service struct {
	store StoreAPI
}

func New(store StoreAPI) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit, offset)
}

func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	return s.store.CountNotifications(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

type Queue interface {
	Enqueue(jobType string, run jobs.RunFunc) bool
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type FailureRecorder interface {
	RecordNotifyFailure()
}

// Dispatcher delivers committed submission events off the request path. It
// writes the recipient's in-app notification and publishes the event to the
// stream. Delivery failures are logged and counted only.
type Dispatcher struct {
	store     StoreAPI
	queue     Queue
	publisher Publisher
	failures  FailureRecorder
	logger    *zap.Logger
}

type DispatcherOption func(*Dispatcher)

func WithPublisher(p Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithFailureRecorder(r FailureRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.failures = r }
}

func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(store StoreAPI, queue Queue, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{store: store, queue: queue, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify never blocks: when the queue is full the event is dropped and counted.
func (d *Dispatcher) Notify(_ context.Context, evt appraisal.Event) {
	if d.queue.Enqueue(jobs.JobNotify, func(ctx context.Context) (any, error) {
		return map[string]string{"eventId": evt.ID, "type": evt.Type}, d.Deliver(ctx, evt)
	}) {
		return
	}
	d.failed("notification dropped", evt, nil)
}

// Deliver runs both delivery channels and returns the first error.
func (d *Dispatcher) Deliver(ctx context.Context, evt appraisal.Event) error {
	var firstErr error
	if ntype, ok := inAppTypes[evt.Type]; ok && evt.Recipient != "" {
		title, body := message(evt)
		err := d.store.CreateNotification(ctx, Notification{
			UserID:  evt.Recipient,
			EventID: evt.ID,
			Type:    ntype,
			Title:   title,
			Body:    body,
		})
		if err != nil {
			d.failed("in-app notification failed", evt, err)
			firstErr = err
		}
	}
	if d.publisher != nil {
		if err := d.publisher.PublishJSON(ctx, evt.SubmissionID, evt); err != nil {
			d.failed("event publish failed", evt, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Dispatcher) failed(msg string, evt appraisal.Event, err error) {
	d.logger.Warn(msg,
		zap.String("eventId", evt.ID),
		zap.String("event", evt.Type),
		zap.String("submissionId", evt.SubmissionID),
		zap.Error(err),
	)
	if d.failures != nil {
		d.failures.RecordNotifyFailure()
	}
}

func message(evt appraisal.Event) (string, string) {
	ref := fmt.Sprintf("Submission %s (version %d)", evt.SubmissionID, evt.Version)
	switch evt.Type {
	case appraisal.EventSubmitted:
		return "Submission received", fmt.Sprintf("%s is waiting for %s.", ref, evt.Stage)
	case appraisal.EventAdvanced:
		return "Submission moved forward", fmt.Sprintf("%s moved from %s to %s.", ref, evt.PreviousStage, evt.Stage)
	case appraisal.EventApproved:
		return "Submission approved", fmt.Sprintf("%s was approved by %s.", ref, evt.Actor)
	case appraisal.EventRejected:
		return "Submission rejected", fmt.Sprintf("%s was rejected at %s: %s", ref, evt.Stage, evt.Reason)
	case appraisal.EventReturned:
		return "Submission returned", fmt.Sprintf("%s was returned to %s.", ref, evt.Stage)
	case appraisal.EventResubmitted:
		return "Submission reopened", fmt.Sprintf("%s is open for editing.", ref)
	default:
		return "Submission updated", ref + " changed."
	}
}
