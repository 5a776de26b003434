package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	appErr "codeio/pkg/errors"
	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 3 * time.Second
	contentTypeJSON       = "application/json"
)

// RabbitConfig defines configuration for the RabbitMQ implementation.
type RabbitConfig struct {
	URL string

	// Exchanges declared on connect. TaskExchange is a durable direct
	// exchange carrying work items; ResultExchange is a durable fanout
	// exchange carrying verdicts.
	TaskExchange   string
	ResultExchange string

	ReconnectDelay time.Duration
}

// RabbitQueue implements MessageQueue using RabbitMQ.
type RabbitQueue struct {
	cfg RabbitConfig

	mu            sync.Mutex
	conn          *amqp.Connection
	pubChannel    *amqp.Channel
	subscriptions []*rabbitSubscription
	started       bool
	closed        bool
}

type rabbitSubscription struct {
	queue   string
	handler HandlerFunc
	opts    SubscribeOptions
	baseCtx context.Context

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRabbitQueue connects to the broker and declares the exchange topology.
func NewRabbitQueue(cfg RabbitConfig) (*RabbitQueue, error) {
	if cfg.URL == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("rabbitmq url is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	q := &RabbitQueue{cfg: cfg}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitQueue) connect() error {
	conn, err := amqp.Dial(q.cfg.URL)
	if err != nil {
		return appErr.Wrapf(err, appErr.MQConnectionFailed, "dial rabbitmq failed")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return appErr.Wrapf(err, appErr.MQConnectionFailed, "open channel failed")
	}

	if err := declareTopology(ch, q.cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q.mu.Lock()
	q.conn = conn
	q.pubChannel = ch
	q.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel, cfg RabbitConfig) error {
	if cfg.TaskExchange != "" {
		if err := ch.ExchangeDeclare(cfg.TaskExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return appErr.Wrapf(err, appErr.MQConnectionFailed, "declare task exchange failed")
		}
	}
	if cfg.ResultExchange != "" {
		if err := ch.ExchangeDeclare(cfg.ResultExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return appErr.Wrapf(err, appErr.MQConnectionFailed, "declare result exchange failed")
		}
	}
	return nil
}

// Publish publishes a persistent message to the given exchange.
func (q *RabbitQueue) Publish(ctx context.Context, exchange string, message *Message) error {
	if message == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is required")
	}

	pub := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    message.ID,
		Timestamp:    message.Timestamp,
		Body:         message.Body,
	}
	if len(message.Headers) > 0 {
		table := amqp.Table{}
		for k, v := range message.Headers {
			table[k] = v
		}
		pub.Headers = table
	}

	// amqp channels are not safe for concurrent publish
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.pubChannel == nil {
		return appErr.New(appErr.MQClosed)
	}
	if err := q.pubChannel.PublishWithContext(ctx, exchange, message.RoutingKey, false, false, pub); err != nil {
		return appErr.Wrapf(err, appErr.MQPublishFailed, "publish to %s failed", exchange)
	}
	return nil
}

// Subscribe registers a handler for the queue with default options.
func (q *RabbitQueue) Subscribe(ctx context.Context, queue string, handler HandlerFunc) error {
	return q.SubscribeWithOptions(ctx, queue, handler, nil)
}

// SubscribeWithOptions registers a handler for the queue. Consumption
// begins when Start is called.
func (q *RabbitQueue) SubscribeWithOptions(ctx context.Context, queue string, handler HandlerFunc, opts *SubscribeOptions) error {
	if queue == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("queue name is required")
	}
	if handler == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("handler is required")
	}
	if opts == nil {
		opts = &SubscribeOptions{Exchange: q.cfg.TaskExchange}
	}
	opts.SetDefaults(queue)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return appErr.New(appErr.MQConsumeFailed).WithMessage("cannot subscribe after start")
	}
	q.subscriptions = append(q.subscriptions, &rabbitSubscription{
		queue:   queue,
		handler: handler,
		opts:    *opts,
		baseCtx: ctx,
	})
	return nil
}

// Start launches one consume loop per subscription.
func (q *RabbitQueue) Start() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return appErr.New(appErr.MQClosed)
	}
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	subs := make([]*rabbitSubscription, len(q.subscriptions))
	copy(subs, q.subscriptions)
	q.mu.Unlock()

	for _, sub := range subs {
		base := sub.baseCtx
		if base == nil {
			base = context.Background()
		}
		sub.ctx, sub.cancel = context.WithCancel(base)
		sub.wg.Add(1)
		go func(s *rabbitSubscription) {
			defer s.wg.Done()
			q.consumeLoop(s)
		}(sub)
	}
	return nil
}

// Stop cancels all consume loops and waits for in-flight handlers.
func (q *RabbitQueue) Stop() error {
	q.mu.Lock()
	subs := make([]*rabbitSubscription, len(q.subscriptions))
	copy(subs, q.subscriptions)
	q.started = false
	q.mu.Unlock()

	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range subs {
		sub.wg.Wait()
	}
	return nil
}

// Ping verifies the broker connection is alive.
func (q *RabbitQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.conn == nil || q.conn.IsClosed() {
		return appErr.New(appErr.MQClosed)
	}
	return nil
}

// Close stops consumption and tears down the connection.
func (q *RabbitQueue) Close() error {
	_ = q.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.pubChannel != nil {
		_ = q.pubChannel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// consumeLoop consumes one queue until the subscription is canceled,
// re-establishing the channel after broker-side closures.
func (q *RabbitQueue) consumeLoop(sub *rabbitSubscription) {
	for {
		if sub.ctx.Err() != nil {
			return
		}

		deliveries, ch, err := q.openConsumer(sub)
		if err != nil {
			logger.Warn(sub.ctx, "open consumer failed",
				zap.String("queue", sub.queue), zap.Error(err))
			if !sleepCtx(sub.ctx, q.cfg.ReconnectDelay) {
				return
			}
			if reconnectErr := q.reconnect(); reconnectErr != nil {
				logger.Warn(sub.ctx, "reconnect failed", zap.Error(reconnectErr))
			}
			continue
		}

		q.drainDeliveries(sub, deliveries)
		_ = ch.Close()
	}
}

func (q *RabbitQueue) drainDeliveries(sub *rabbitSubscription, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				// channel closed by the broker; the loop reconnects
				return
			}
			msg := &Message{
				ID:         d.MessageId,
				Body:       d.Body,
				Timestamp:  d.Timestamp,
				RoutingKey: d.RoutingKey,
				Headers:    headerMap(d.Headers),
			}
			if err := sub.handler(sub.ctx, msg); err != nil {
				logger.Warn(sub.ctx, "handler failed, requeueing",
					zap.String("queue", sub.queue), zap.Error(err))
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// openConsumer declares the durable queue, binds it and starts consuming on
// a dedicated channel so the prefetch window applies per consumer.
func (q *RabbitQueue) openConsumer(sub *rabbitSubscription) (<-chan amqp.Delivery, *amqp.Channel, error) {
	q.mu.Lock()
	conn := q.conn
	closed := q.closed
	q.mu.Unlock()
	if closed || conn == nil || conn.IsClosed() {
		return nil, nil, appErr.New(appErr.MQClosed)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.MQConsumeFailed, "open channel failed")
	}
	if err := ch.Qos(sub.opts.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, appErr.Wrapf(err, appErr.MQConsumeFailed, "set qos failed")
	}
	if _, err := ch.QueueDeclare(sub.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, appErr.Wrapf(err, appErr.MQConsumeFailed, "declare queue failed")
	}
	if sub.opts.Exchange != "" {
		if err := ch.QueueBind(sub.queue, sub.opts.RoutingKey, sub.opts.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, nil, appErr.Wrapf(err, appErr.MQConsumeFailed, "bind queue failed")
		}
	}

	deliveries, err := ch.Consume(sub.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, appErr.Wrapf(err, appErr.MQConsumeFailed, "consume failed")
	}
	return deliveries, ch, nil
}

func (q *RabbitQueue) reconnect() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return appErr.New(appErr.MQClosed)
	}
	if q.conn != nil && !q.conn.IsClosed() {
		q.mu.Unlock()
		return nil
	}
	old := q.conn
	oldCh := q.pubChannel
	q.mu.Unlock()

	if oldCh != nil {
		_ = oldCh.Close()
	}
	if old != nil {
		_ = old.Close()
	}
	return q.connect()
}

func headerMap(table amqp.Table) map[string]string {
	if len(table) == 0 {
		return nil
	}
	headers := make(map[string]string, len(table))
	for k, v := range table {
		headers[k] = fmt.Sprint(v)
	}
	return headers
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
