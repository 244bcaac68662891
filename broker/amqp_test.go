package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/events"
)

type ackCall struct {
	op      string
	tag     uint64
	requeue bool
}

type fakeAcknowledger struct {
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.calls = append(f.calls, ackCall{op: "ack", tag: tag})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.calls = append(f.calls, ackCall{op: "nack", tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.calls = append(f.calls, ackCall{op: "reject", tag: tag, requeue: requeue})
	return nil
}

// sessions hands out prepared sessions in order, then fails.
type sessions struct {
	mu    sync.Mutex
	queue []*amqpSession
	errs  []error
	dials int
}

func (f *sessions) dial() (*amqpSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.queue) == 0 {
		return nil, errors.New("connection refused")
	}
	sess := f.queue[0]
	f.queue = f.queue[1:]
	return sess, nil
}

func (f *sessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func session(ch <-chan amqp.Delivery) *amqpSession {
	return &amqpSession{deliveries: ch}
}

func fastSource(dial func() (*amqpSession, error)) *AMQPSource {
	src := newAMQPSource(dial)
	src.backoffMin = time.Millisecond
	src.backoffMax = 5 * time.Millisecond
	return src
}

func TestAMQPSourceSettlement(t *testing.T) {
	ack := &fakeAcknowledger{}
	ch := make(chan amqp.Delivery, 3)
	for tag := uint64(1); tag <= 3; tag++ {
		ch <- amqp.Delivery{
			Acknowledger: ack,
			DeliveryTag:  tag,
			ContentType:  "post_created",
			MessageId:    "m" + string(rune('0'+tag)),
			Body:         []byte(`1`),
		}
	}
	src := fastSource((&sessions{queue: []*amqpSession{session(ch)}}).dial)
	ctx := context.Background()

	d, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, events.PostCreated, d.Kind)
	assert.Equal(t, "m1", d.MessageID)
	assert.Equal(t, events.Event{ID: "m1", Kind: events.PostCreated, Body: []byte(`1`)}, d.Event())
	require.NoError(t, d.Ack())

	d, err = src.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(true))

	d, err = src.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(false))

	assert.Equal(t, []ackCall{
		{op: "ack", tag: 1},
		{op: "nack", tag: 2, requeue: true},
		{op: "reject", tag: 3, requeue: false},
	}, ack.calls)
}

func TestAMQPSourceReconnectsAfterChannelCloses(t *testing.T) {
	first := make(chan amqp.Delivery, 1)
	first <- amqp.Delivery{ContentType: "like_created", MessageId: "a", Body: []byte(`1`)}
	close(first)
	second := make(chan amqp.Delivery, 1)
	second <- amqp.Delivery{ContentType: "like_created", MessageId: "b", Body: []byte(`1`)}

	closes := 0
	s1 := session(first)
	s1.close = func() error { closes++; return nil }
	dialer := &sessions{queue: []*amqpSession{s1, session(second)}}
	src := fastSource(dialer.dial)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	d, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", d.MessageID)

	d, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", d.MessageID)
	assert.Equal(t, 2, dialer.count())
	assert.Equal(t, 1, closes, "the dead session is closed")
}

func TestAMQPSourceReconnectsAfterConnectionError(t *testing.T) {
	lost := make(chan *amqp.Error, 1)
	lost <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker restart"}
	dead := &amqpSession{deliveries: make(chan amqp.Delivery), closed: lost}

	live := make(chan amqp.Delivery, 1)
	live <- amqp.Delivery{ContentType: "post_created", MessageId: "after", Body: []byte(`2`)}
	dialer := &sessions{
		queue: []*amqpSession{dead, session(live)},
		errs:  []error{errors.New("connection refused")},
	}
	src := fastSource(dialer.dial)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	d, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after", d.MessageID)
	assert.Equal(t, 3, dialer.count())
}

func TestAMQPSourceCloseStopsReconnecting(t *testing.T) {
	dialer := &sessions{}
	src := fastSource(dialer.dial)

	errc := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return dialer.count() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAMQPSourceContextCancelled(t *testing.T) {
	src := fastSource((&sessions{queue: []*amqpSession{session(make(chan amqp.Delivery))}}).dial)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAMQPSourceCloseIgnoresAlreadyClosed(t *testing.T) {
	src := newAMQPSource(nil)
	src.sess = &amqpSession{close: func() error { return amqp.ErrClosed }}
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())

	boom := errors.New("boom")
	src = newAMQPSource(nil)
	src.sess = &amqpSession{close: func() error { return boom }}
	assert.ErrorIs(t, src.Close(), boom)
}

type fakeChannel struct {
	exchange, key string
	msgs          []amqp.Publishing
	err           error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestAMQPPublisherWireContract(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, queue: "page_statistics"}

	ev, err := events.New(events.FollowerAddedAll, events.FollowersBatch{PageID: 3, Quantity: 4})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, ch.msgs, 1)
	msg := ch.msgs[0]
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, "page_statistics", ch.key)
	assert.Equal(t, "follower_added_all", msg.ContentType)
	assert.Equal(t, ev.ID, msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.JSONEq(t, `{"page_id": 3, "quantity": 4}`, string(msg.Body))
	assert.NoError(t, p.Close())
}

func TestAMQPPublisherWrapsError(t *testing.T) {
	boom := errors.New("channel closed")
	p := &AMQPPublisher{ch: &fakeChannel{err: boom}, queue: "q"}
	ev, err := events.New(events.LikeCreated, 1)
	require.NoError(t, err)

	err = p.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "like_created")
}

type fakeDeclarer struct {
	name    string
	durable bool
	args    amqp.Table
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.name, f.durable, f.args = name, durable, args
	return amqp.Queue{Name: name}, nil
}

func TestDeclareQueueDurability(t *testing.T) {
	d := &fakeDeclarer{}
	require.NoError(t, declareQueue(d, config.BrokerConfig{RabbitQueueName: "page_statistics", RabbitDurable: true}))
	assert.Equal(t, "page_statistics", d.name)
	assert.True(t, d.durable)
	assert.Nil(t, d.args)

	d = &fakeDeclarer{}
	require.NoError(t, declareQueue(d, config.BrokerConfig{RabbitQueueName: "legacy", RabbitDeadLetterExchange: "dlx"}))
	assert.False(t, d.durable)
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "dlx"}, d.args)
}

func TestQueueArgs(t *testing.T) {
	assert.Nil(t, queueArgs(config.BrokerConfig{}))
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "stats.dlx"},
		queueArgs(config.BrokerConfig{RabbitDeadLetterExchange: "stats.dlx"}))
}

func TestOpenSourceUnknownDriver(t *testing.T) {
	_, err := OpenSource(context.Background(), config.BrokerConfig{Driver: "sqs"})
	assert.Error(t, err)
	_, err = OpenPublisher(context.Background(), config.BrokerConfig{Driver: "sqs"})
	assert.Error(t, err)
}
