package broker

import (
	"context"
	"fmt"

	"design-service/internal/models"
	"design-service/internal/util"

	"go.uber.org/zap"
)

// EventPublisher publishes domain events and queues gateway callbacks
type EventPublisher struct {
	producer       *Producer
	eventsTopic    string
	callbacksTopic string
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, eventsTopic, callbacksTopic string) *EventPublisher {
	return &EventPublisher{
		producer:       producer,
		eventsTopic:    eventsTopic,
		callbacksTopic: callbacksTopic,
	}
}

// PublishDesignEvent publishes a set design transition keyed by design
func (ep *EventPublisher) PublishDesignEvent(ctx context.Context, event *models.DesignEvent) error {
	key := fmt.Sprintf("design-%s", event.DesignID)
	return ep.producer.PublishEvent(ctx, ep.eventsTopic, key, event)
}

// PublishPaymentEvent publishes a payment outcome keyed by its target
func (ep *EventPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	key := fmt.Sprintf("%s-%s", event.TargetType, event.TargetID)
	return ep.producer.PublishEvent(ctx, ep.eventsTopic, key, event)
}

// EnqueueCallback queues a webhook delivery for asynchronous settlement
func (ep *EventPublisher) EnqueueCallback(ctx context.Context, msg *models.CallbackMessage) error {
	return ep.producer.PublishEvent(ctx, ep.callbacksTopic, msg.DeliveryID, msg)
}

// LogPublisher writes events to the log instead of Kafka. It backs local runs
// without brokers; callbacks cannot be queued through it.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: util.GetLogger()}
}

// PublishDesignEvent logs a set design transition
func (lp *LogPublisher) PublishDesignEvent(ctx context.Context, event *models.DesignEvent) error {
	lp.logger.Info("Design event",
		zap.String("type", event.EventType),
		zap.String("design_id", event.DesignID),
		zap.String("status", string(event.Status)))
	return nil
}

// PublishPaymentEvent logs a payment outcome
func (lp *LogPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	lp.logger.Info("Payment event",
		zap.String("type", event.EventType),
		zap.String("payment_id", event.PaymentID),
		zap.String("target_type", string(event.TargetType)),
		zap.String("target_id", event.TargetID))
	return nil
}
