// Package events publishes domain events after the transaction that
// produced them commits.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	PrescriptionPriced = "prescription.priced"
	ClaimAdjudicated   = "claim.adjudicated"
	ClaimReversed      = "claim.reversed"
	InvoiceCreated     = "invoice.created"
	InvoiceOverdue     = "invoice.overdue"
	InvoiceAdjusted    = "invoice.adjusted"
	PaymentRecorded    = "payment.recorded"
	PaymentAllocated   = "payment.allocated"
	PaymentReversed    = "payment.reversed"
	StatementGenerated = "statement.generated"
)

type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	TenantID   string      `json:"tenant_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// New builds an event with a fresh id.
func New(eventType, tenantID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		OccurredAt: at.UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
}

// AMQPPublisher sends each event to a durable topic exchange with the event
// type as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

// NewAMQPPublisher opens a channel on conn and declares the exchange.
func NewAMQPPublisher(conn *amqp.Connection, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evts ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, evt := range evts {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.Type, err)
		}

		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.ID,
			Timestamp:    evt.OccurredAt,
			Type:         evt.Type,
			Body:         body,
			Headers:      amqp.Table{"tenant_id": evt.TenantID},
		}
		if err := p.channel.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg); err != nil {
			return fmt.Errorf("publish %s to %s: %w", evt.Type, p.exchange, err)
		}
		p.logger.Debug().Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("event published")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.channel.Close()
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evts ...Event) error {
	for _, evt := range evts {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.Type, err)
		}
		p.logger.Info().
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Str("tenant_id", evt.TenantID).
			RawJSON("payload", payload).
			Msg("domain event")
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evts ...Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Nop discards events.
var Nop Publisher = nopPublisher{}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...Event) error { return nil }

// Fanout publishes to every publisher in turn and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
