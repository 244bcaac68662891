// Package broker adapts message transports to the consumer and publisher.
//
// A Source hands out one Delivery at a time. The consumer settles every
// delivery exactly once: Ack after the event was applied, Nack(true) to get
// it redelivered later, Nack(false) to drop it (or dead-letter it, where the
// transport supports that).
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/events"
)

// ErrClosed is returned by Source.Next once the underlying transport is gone.
var ErrClosed = errors.New("broker source closed")

// Delivery is one inbound message awaiting settlement.
type Delivery struct {
	MessageID string
	Kind      events.Kind
	Body      []byte

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a delivery settled through ack and nack.
func NewDelivery(messageID string, kind events.Kind, body []byte, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{MessageID: messageID, Kind: kind, Body: body, ack: ack, nack: nack}
}

// Event returns the delivery as a domain event.
func (d *Delivery) Event() events.Event {
	return events.Event{ID: d.MessageID, Kind: d.Kind, Body: d.Body}
}

func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d *Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Source yields deliveries in broker order.
type Source interface {
	// Next blocks until a delivery is available, ctx is done or the source
	// is closed (ErrClosed).
	Next(ctx context.Context) (*Delivery, error)
	Close() error
}

// Publisher emits domain events using the same wire contract the Source reads.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
	Close() error
}

// OpenSource connects the consuming side of the configured transport.
func OpenSource(ctx context.Context, cfg config.BrokerConfig) (Source, error) {
	switch cfg.Driver {
	case "", "rabbitmq", "amqp":
		return DialAMQPSource(cfg)
	case "kafka":
		return NewKafkaSource(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}

// OpenPublisher connects the publishing side of the configured transport.
func OpenPublisher(ctx context.Context, cfg config.BrokerConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "rabbitmq", "amqp":
		return DialAMQPPublisher(cfg)
	case "kafka":
		return NewKafkaPublisher(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}
