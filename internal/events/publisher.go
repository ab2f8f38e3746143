package events

import (
	"call-assistant/internal/clients/kafka"
	"call-assistant/internal/observability"
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCallStarted   = "call.started"
	TypeCallEmergency = "call.emergency"
	TypeCallEnded     = "call.ended"
)

// EventProducer writes a single event to the event stream
type EventProducer interface {
	PublishEvent(ctx context.Context, event kafka.EventMessage) error
}

// Publisher handles publishing call lifecycle events. A nil producer turns
// every method into a no-op so the stream stays optional.
type Publisher struct {
	producer EventProducer
	logger   *observability.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer EventProducer, logger *observability.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger,
	}
}

// CallStarted publishes a call.started event
func (p *Publisher) CallStarted(ctx context.Context, accountID, callSID, callerNumber string) {
	p.publish(ctx, TypeCallStarted, accountID, callSID, map[string]interface{}{
		"caller_number": callerNumber,
	})
}

// CallEmergency publishes a call.emergency event
func (p *Publisher) CallEmergency(ctx context.Context, accountID, callSID, utterance string, alerted bool) {
	p.publish(ctx, TypeCallEmergency, accountID, callSID, map[string]interface{}{
		"utterance": utterance,
		"alerted":   alerted,
	})
}

// CallEnded publishes a call.ended event
func (p *Publisher) CallEnded(ctx context.Context, accountID, callSID, reason string) {
	p.publish(ctx, TypeCallEnded, accountID, callSID, map[string]interface{}{
		"reason": reason,
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, accountID, callSID string, data map[string]interface{}) {
	if p == nil || p.producer == nil {
		return
	}

	event := kafka.EventMessage{
		ID:        uuid.New().String(),
		Type:      eventType,
		AccountID: accountID,
		CallSID:   callSID,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := p.producer.PublishEvent(ctx, event); err != nil {
		p.logger.WarnWithError(ctx, "failed to publish call event", err)
	}
}
