// Package consumer drains a broker source into the event dispatcher, one
// delivery at a time.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/pagestats/broker"
	"github.com/cppla/pagestats/events"
	"github.com/cppla/pagestats/metrics"
)

const (
	defaultHandlerTimeout = 10 * time.Second
	defaultRetryBackoff   = time.Second
)

// Handler applies one event. *events.Dispatcher implements it.
type Handler interface {
	Dispatch(ctx context.Context, ev events.Event) error
}

// Options tunes a Consumer. Zero values pick defaults.
type Options struct {
	HandlerTimeout time.Duration
	RetryBackoff   time.Duration
	Metrics        *metrics.Metrics
}

type Consumer struct {
	source  broker.Source
	handler Handler
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	backoff time.Duration
}

func New(source broker.Source, handler Handler, logger *zap.Logger, opts Options) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Consumer{
		source:  source,
		handler: handler,
		logger:  logger,
		metrics: opts.Metrics,
		timeout: opts.HandlerTimeout,
		backoff: opts.RetryBackoff,
	}
	if c.timeout <= 0 {
		c.timeout = defaultHandlerTimeout
	}
	if c.backoff <= 0 {
		c.backoff = defaultRetryBackoff
	}
	return c
}

// Run consumes until ctx is cancelled, returning nil, or until the source is
// closed underneath it, returning broker.ErrClosed. The in-flight delivery is
// always settled before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")
	for {
		d, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, broker.ErrClosed) {
				return err
			}
			c.logger.Error("fetch delivery failed", zap.Error(err))
			c.sleep(ctx)
			continue
		}
		if requeued := c.handle(ctx, d); requeued {
			c.sleep(ctx)
		}
	}
}

// handle processes and settles one delivery. It reports whether the delivery
// was handed back to the broker for redelivery.
func (c *Consumer) handle(ctx context.Context, d *broker.Delivery) bool {
	start := time.Now()
	log := c.logger.With(zap.String("kind", string(d.Kind)), zap.String("message_id", d.MessageID))

	if !json.Valid(d.Body) {
		log.Warn("dropping undecodable message", zap.ByteString("body", truncate(d.Body)))
		c.settle(log, d, false, metrics.OutcomeMalformed, start)
		return false
	}
	if !d.Kind.Known() {
		log.Warn("dropping message with unknown kind")
		c.settle(log, d, false, metrics.OutcomeIgnored, start)
		return false
	}

	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.handler.Dispatch(hctx, d.Event())
	cancel()

	switch {
	case err == nil:
		log.Debug("event applied", zap.Duration("elapsed", time.Since(start)))
		if ackErr := d.Ack(); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
		c.metrics.ObserveEvent(kindLabel(d.Kind), metrics.OutcomeApplied, time.Since(start))
		return false
	case errors.Is(err, events.ErrMalformed):
		log.Warn("dropping malformed event", zap.Error(err))
		c.settle(log, d, false, metrics.OutcomeMalformed, start)
		return false
	default:
		log.Error("event handling failed, requeueing", zap.Error(err))
		c.settle(log, d, true, metrics.OutcomeRequeued, start)
		return true
	}
}

func (c *Consumer) settle(log *zap.Logger, d *broker.Delivery, requeue bool, outcome string, start time.Time) {
	if err := d.Nack(requeue); err != nil {
		log.Error("nack failed", zap.Bool("requeue", requeue), zap.Error(err))
	}
	c.metrics.ObserveEvent(kindLabel(d.Kind), outcome, time.Since(start))
}

// kindLabel keeps the metric's label set bounded: the routing tag comes from
// the wire and may be anything.
func kindLabel(k events.Kind) string {
	if !k.Known() {
		return "unknown"
	}
	return string(k)
}

func (c *Consumer) sleep(ctx context.Context) {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(b []byte) []byte {
	const limit = 256
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
