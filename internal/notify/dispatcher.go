// Package notify carries post-commit notifications: the Dispatcher used by the
// coordinators, the Kafka-backed Publisher, and the worker-side Sender that
// delivers pushes and operations alerts.
package notify

import (
	"context"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-sayur-orders/internal/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Dispatcher is called after commit. An error is for logging only.
type Dispatcher interface {
	OrderPlaced(ctx context.Context, ev OrderPlaced) error
	TopUpSucceeded(ctx context.Context, ev TopUpSucceeded) error
	StatusChanged(ctx context.Context, ev StatusChanged) error
}

type Producer interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

type traceKey struct{}

// WithTrace attaches a request id that ends up in Envelope.TraceID.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// Publisher wraps events in a v1 Envelope and hands them to the async producer.
type Publisher struct {
	Producer Producer
	Service  string
	Now      func() time.Time
}

var _ Dispatcher = (*Publisher)(nil)

func (p *Publisher) OrderPlaced(ctx context.Context, ev OrderPlaced) error {
	return p.publish(ctx, TopicOrderPlaced, EventOrderPlaced, ev.UserID, ev.OrderCode, ev)
}

func (p *Publisher) TopUpSucceeded(ctx context.Context, ev TopUpSucceeded) error {
	return p.publish(ctx, TopicTopUpSucceeded, EventTopUpSucceeded, ev.UserID, ev.TopUpCode, ev)
}

func (p *Publisher) StatusChanged(ctx context.Context, ev StatusChanged) error {
	return p.publish(ctx, TopicStatusChanged, EventStatusChanged, ev.UserID, ev.OrderCode, ev)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType string, userID int64, correlation string, payload any) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now().UTC(),
		Producer:      p.Service,
		TraceID:       traceFrom(ctx),
		CorrelationID: correlation,
		Payload:       kafkax.MustMarshal(payload),
	}
	err := p.Producer.Publish(topic, PartitionKey(userID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}
