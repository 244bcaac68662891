package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/events"
)

const (
	messageIDHeader = "message_id"
	commitTimeout   = 5 * time.Second
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads the statistics topic as part of a consumer group.
// Offsets are committed only when a delivery is settled. A delivery nacked
// with requeue is served again by the next call to Next, since Kafka has no
// per-message redelivery.
type KafkaSource struct {
	reader     kafkaReader
	kindHeader string

	mu      sync.Mutex
	pending *kafka.Message
}

// NewKafkaSource creates a group reader; it connects lazily on first fetch.
func NewKafkaSource(cfg config.BrokerConfig) *KafkaSource {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	})
	return newKafkaSource(r, cfg.KafkaKindHeader)
}

func newKafkaSource(r kafkaReader, kindHeader string) *KafkaSource {
	if kindHeader == "" {
		kindHeader = "content_type"
	}
	return &KafkaSource{reader: r, kindHeader: kindHeader}
}

func (s *KafkaSource) Next(ctx context.Context) (*Delivery, error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var msg kafka.Message
	if pending != nil {
		msg = *pending
	} else {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, err
		}
		msg = m
	}

	commit := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()
		return s.reader.CommitMessages(ctx, msg)
	}
	return NewDelivery(header(msg, messageIDHeader), events.Kind(header(msg, s.kindHeader)), msg.Value,
		commit,
		func(requeue bool) error {
			if !requeue {
				return commit()
			}
			s.mu.Lock()
			s.pending = &msg
			s.mu.Unlock()
			return nil
		},
	), nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by page id, so all events of one page
// land on one partition in order.
type KafkaPublisher struct {
	writer     kafkaWriter
	kindHeader string
}

func NewKafkaPublisher(cfg config.BrokerConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, cfg.KafkaKindHeader)
}

func newKafkaPublisher(w kafkaWriter, kindHeader string) *KafkaPublisher {
	if kindHeader == "" {
		kindHeader = "content_type"
	}
	return &KafkaPublisher{writer: w, kindHeader: kindHeader}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev events.Event) error {
	pageID, err := ev.PageID()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(pageID, 10)),
		Value: ev.Body,
		Headers: []kafka.Header{
			{Key: p.kindHeader, Value: []byte(ev.Kind)},
			{Key: messageIDHeader, Value: []byte(ev.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
