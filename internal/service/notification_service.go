package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gso-platform/maintenance-api/internal/models"
	"github.com/gso-platform/maintenance-api/pkg/config"
	"github.com/gso-platform/maintenance-api/pkg/jobs"
)

// NotificationSink delivers an event over one channel (mail, webhook, log).
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// LogSink writes events to the structured log. It is the default sink and
// doubles as the audit trail for notification fan-out in development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Name identifies the sink in delivery logs.
func (s *LogSink) Name() string { return "log" }

// Deliver implements NotificationSink.
func (s *LogSink) Deliver(_ context.Context, event models.NotificationEvent) error {
	s.logger.Info("notification delivered",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("request_id", event.RequestID),
		zap.Any("recipients", event.Recipients))
	return nil
}

// NotificationService fans transition events out to delivery sinks through an
// in-process worker queue. Dispatch is best-effort: a sink failure is retried
// by the queue and eventually dropped with an error log, it never affects the
// transition that produced the event.
type NotificationService struct {
	queue  *jobs.Queue
	sinks  []NotificationSink
	logger *zap.Logger
}

// NewNotificationService constructs the dispatcher. With no sinks supplied it
// falls back to the log sink.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationsConfig, sinks ...NotificationSink) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sinks) == 0 {
		sinks = []NotificationSink{NewLogSink(logger)}
	}
	svc := &NotificationService{sinks: sinks, logger: logger}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Emit queues a transition event for delivery. The snapshot is the committed
// record state at emit time.
func (s *NotificationService) Emit(_ context.Context, eventType models.NotificationEventType, snapshot models.MaintenanceRequest, recipients models.RecipientSelector) error {
	event := models.NotificationEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		RequestID:  snapshot.ID,
		Snapshot:   snapshot,
		Recipients: recipients,
		OccurredAt: time.Now().UTC(),
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      event.ID,
		Type:    string(eventType),
		Payload: event,
	})
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		s.logger.Error("discarding notification job with unexpected payload",
			zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			s.logger.Warn("notification sink failed",
				zap.String("sink", sink.Name()),
				zap.String("event_id", event.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
