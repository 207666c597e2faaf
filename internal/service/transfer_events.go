package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-transfer-api/internal/models"
	"github.com/noah-isme/staff-transfer-api/pkg/jobs"
	"github.com/noah-isme/staff-transfer-api/pkg/messaging"
)

// TransferEventSink receives committed transfer events.
type TransferEventSink interface {
	Name() string
	Deliver(ctx context.Context, event models.TransferEvent) error
}

type eventDelivery struct {
	sink  TransferEventSink
	event models.TransferEvent
}

// TransferEventDispatcher fans transfer events out to sinks on a background
// worker queue. Each sink is retried independently.
type TransferEventDispatcher struct {
	queue   *jobs.Queue
	sinks   []TransferEventSink
	metrics *MetricsService
	logger  *zap.Logger
}

// NewTransferEventDispatcher builds the dispatcher; call Start before publishing.
func NewTransferEventDispatcher(cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger, sinks ...TransferEventSink) *TransferEventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &TransferEventDispatcher{metrics: metrics, logger: logger}
	for _, sink := range sinks {
		if sink != nil {
			d.sinks = append(d.sinks, sink)
		}
	}
	cfg.Logger = logger
	cfg.OnDiscard = d.discard
	d.queue = jobs.NewQueue("transfer-events", d.handle, cfg)
	return d
}

// Start launches the delivery workers.
func (d *TransferEventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains buffered deliveries and stops the workers.
func (d *TransferEventDispatcher) Stop() {
	d.queue.Stop()
}

// Publish schedules delivery of event to every sink. When the buffer is full
// the delivery runs inline so no audit record is lost.
func (d *TransferEventDispatcher) Publish(ctx context.Context, event models.TransferEvent) {
	for _, sink := range d.sinks {
		job := jobs.Job{
			ID:      fmt.Sprintf("%s:%s", event.ID, sink.Name()),
			Type:    string(event.Type),
			Payload: eventDelivery{sink: sink, event: event},
		}
		err := d.queue.TryEnqueue(job)
		if err == nil {
			continue
		}
		if !errors.Is(err, jobs.ErrQueueFull) {
			d.logger.Debug("event queue unavailable, delivering inline", zap.String("sink", sink.Name()), zap.Error(err))
		} else {
			d.logger.Warn("event queue full, delivering inline", zap.String("sink", sink.Name()), zap.String("event_id", event.ID))
		}
		if err := d.handle(context.WithoutCancel(ctx), job); err != nil {
			d.discard(job, err)
		}
	}
}

func (d *TransferEventDispatcher) handle(ctx context.Context, job jobs.Job) error {
	delivery, ok := job.Payload.(eventDelivery)
	if !ok {
		return nil
	}
	err := delivery.sink.Deliver(ctx, delivery.event)
	d.metrics.RecordEventDelivery(delivery.sink.Name(), err == nil)
	return err
}

func (d *TransferEventDispatcher) discard(job jobs.Job, err error) {
	d.logger.Error("transfer event dropped", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
}

// AuditEventSink records transfer events in the audit log.
type AuditEventSink struct {
	repo auditLogger
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// NewAuditEventSink constructs the sink.
func NewAuditEventSink(repo auditLogger) *AuditEventSink {
	return &AuditEventSink{repo: repo}
}

// Name implements TransferEventSink.
func (s *AuditEventSink) Name() string { return "audit" }

// Deliver implements TransferEventSink.
func (s *AuditEventSink) Deliver(ctx context.Context, event models.TransferEvent) error {
	newValues, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	var oldValues []byte
	if event.FromStatus != "" {
		oldValues, _ = json.Marshal(map[string]models.TransferStatus{"status": event.FromStatus})
	}
	actor := event.ActorRef
	resourceID := event.TransferID
	log := &models.AuditLog{
		ID:         event.ID,
		Action:     auditActionFor(event.Type),
		Resource:   "transfer_request",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  "system",
		UserAgent:  "transfer-service",
		CreatedAt:  event.OccurredAt,
	}
	if actor != "" {
		log.UserID = &actor
	}
	return s.repo.CreateAuditLog(ctx, log)
}

func auditActionFor(eventType models.TransferEventType) string {
	switch eventType {
	case models.TransferEventCreated:
		return models.AuditActionTransferCreate
	case models.TransferEventEffectApplied:
		return models.AuditActionTransferEffect
	case models.TransferEventEffectFailed:
		return models.AuditActionTransferEffectFailed
	default:
		return models.AuditActionTransferTransition
	}
}

type messagePublisher interface {
	Publish(ctx context.Context, msg messaging.Message) error
}

// MessagingEventSink publishes transfer events to the message broker, routed by event type.
type MessagingEventSink struct {
	publisher messagePublisher
}

// NewMessagingEventSink constructs the sink.
func NewMessagingEventSink(publisher messagePublisher) *MessagingEventSink {
	return &MessagingEventSink{publisher: publisher}
}

// Name implements TransferEventSink.
func (s *MessagingEventSink) Name() string { return "rabbitmq" }

// Deliver implements TransferEventSink.
func (s *MessagingEventSink) Deliver(ctx context.Context, event models.TransferEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}
	return s.publisher.Publish(ctx, messaging.Message{
		ID:         event.ID,
		RoutingKey: string(event.Type),
		Body:       body,
		Headers: map[string]interface{}{
			"transfer_id": event.TransferID,
			"status":      string(event.ToStatus),
		},
		Timestamp: event.OccurredAt,
	})
}
