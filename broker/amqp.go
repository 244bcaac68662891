package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/events"
	"github.com/cppla/pagestats/utils"
)

const (
	amqpConsumerTag = "pagestats"

	amqpReconnectMin = time.Second
	amqpReconnectMax = 30 * time.Second
)

// amqpSession is one connection consuming the statistics queue. It is done
// when either the delivery channel or closed fires.
type amqpSession struct {
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
	close      func() error
}

// AMQPSource consumes the statistics queue with manual acknowledgement and a
// prefetch of one, so the broker never hands this process a second message
// before the first is settled. A dropped connection is re-dialled with
// backoff inside Next; only Close ends the source.
type AMQPSource struct {
	dial       func() (*amqpSession, error)
	backoffMin time.Duration
	backoffMax time.Duration

	mu        sync.Mutex
	sess      *amqpSession
	done      chan struct{}
	closeOnce sync.Once
}

// DialAMQPSource connects, declares the queue and starts consuming. The first
// dial must succeed so a misconfigured broker fails at boot.
func DialAMQPSource(cfg config.BrokerConfig) (*AMQPSource, error) {
	dial := func() (*amqpSession, error) { return dialAMQPSession(cfg) }
	sess, err := dial()
	if err != nil {
		return nil, err
	}
	s := newAMQPSource(dial)
	s.sess = sess
	return s, nil
}

func newAMQPSource(dial func() (*amqpSession, error)) *AMQPSource {
	return &AMQPSource{
		dial:       dial,
		backoffMin: amqpReconnectMin,
		backoffMax: amqpReconnectMax,
		done:       make(chan struct{}),
	}
}

func dialAMQPSession(cfg config.BrokerConfig) (*amqpSession, error) {
	conn, ch, err := dialAMQP(cfg)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set amqp prefetch: %w", err)
	}
	msgs, err := ch.Consume(cfg.RabbitQueueName, amqpConsumerTag, false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("consume %s: %w", cfg.RabbitQueueName, err)
	}
	return &amqpSession{
		deliveries: msgs,
		closed:     conn.NotifyClose(make(chan *amqp.Error, 1)),
		close: func() error {
			ch.Close()
			return conn.Close()
		},
	}, nil
}

func (s *AMQPSource) Next(ctx context.Context) (*Delivery, error) {
	for {
		sess, err := s.session(ctx)
		if err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case amqpErr := <-sess.closed:
			s.drop(sess, amqpErr)
		case msg, ok := <-sess.deliveries:
			if !ok {
				s.drop(sess, nil)
				continue
			}
			return NewDelivery(msg.MessageId, events.Kind(msg.ContentType), msg.Body,
				func() error { return msg.Ack(false) },
				func(requeue bool) error {
					if requeue {
						return msg.Nack(false, true)
					}
					// goes to the dead-letter exchange when the queue has one
					return msg.Reject(false)
				},
			), nil
		}
	}
}

// session returns the live session, dialling until one is up, ctx is done or
// the source is closed.
func (s *AMQPSource) session(ctx context.Context) (*amqpSession, error) {
	wait := s.backoffMin
	for {
		select {
		case <-s.done:
			return nil, ErrClosed
		default:
		}
		s.mu.Lock()
		sess := s.sess
		s.mu.Unlock()
		if sess != nil {
			return sess, nil
		}

		sess, err := s.dial()
		if err == nil {
			s.mu.Lock()
			s.sess = sess
			s.mu.Unlock()
			utils.Logger.Info("amqp consumer reconnected")
			return sess, nil
		}
		utils.Logger.Warn("amqp reconnect failed", zap.Duration("retry_in", wait), zap.Error(err))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-s.done:
			t.Stop()
			return nil, ErrClosed
		case <-t.C:
		}
		if wait *= 2; wait > s.backoffMax {
			wait = s.backoffMax
		}
	}
}

func (s *AMQPSource) drop(sess *amqpSession, reason *amqp.Error) {
	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()
	if reason != nil {
		utils.Logger.Warn("amqp connection lost", zap.String("reason", reason.Reason), zap.Int("code", reason.Code))
	} else {
		utils.Logger.Warn("amqp delivery channel closed")
	}
	if sess.close != nil {
		_ = sess.close()
	}
}

func (s *AMQPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		sess := s.sess
		s.sess = nil
		s.mu.Unlock()
		if sess != nil && sess.close != nil {
			err = sess.close()
		}
	})
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends events through the default exchange straight to the
// statistics queue, carrying the kind in the content type property.
type AMQPPublisher struct {
	ch      amqpChannel
	queue   string
	closeFn func() error
}

// DialAMQPPublisher connects and declares the queue.
func DialAMQPPublisher(cfg config.BrokerConfig) (*AMQPPublisher, error) {
	conn, ch, err := dialAMQP(cfg)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{ch: ch, queue: cfg.RabbitQueueName, closeFn: conn.Close}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev events.Event) error {
	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  string(ev.Kind),
		MessageId:    ev.ID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         ev.Body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}

func dialAMQP(cfg config.BrokerConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.RabbitURL())
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq %s:%d: %w", cfg.RabbitHost, cfg.RabbitPort, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declareQueue(ch, cfg); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

func declareQueue(ch queueDeclarer, cfg config.BrokerConfig) error {
	if _, err := ch.QueueDeclare(cfg.RabbitQueueName, cfg.RabbitDurable, false, false, false, queueArgs(cfg)); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.RabbitQueueName, err)
	}
	return nil
}

// queueArgs and the durable flag must match on every declaration of the
// queue or the broker refuses it, so publisher and consumer share this.
func queueArgs(cfg config.BrokerConfig) amqp.Table {
	if cfg.RabbitDeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": cfg.RabbitDeadLetterExchange}
}
