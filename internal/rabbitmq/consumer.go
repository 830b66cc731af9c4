package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler receives every delivery of a subscription, in order
type DeliveryHandler func(delivery amqp.Delivery)

// Consumer consumes from a queue on its own channel with automatic
// acknowledgment
type Consumer struct {
	conn        *ConnectionManager
	consumerTag string
	exclusive   bool
	logger      *slog.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	cancel context.CancelFunc
	done   chan struct{}
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(conn *ConnectionManager, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		conn:        conn,
		consumerTag: "capy-" + uuid.New().String(),
		exclusive:   true,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscribe starts consuming queue. handler runs on the consumer
// goroutine. onClosed is called if the delivery stream ends while ctx is
// still live, meaning the server cancelled the consumer or the channel
// died.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler DeliveryHandler, onClosed func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         ErrInvalidConfiguration,
			Timestamp:   time.Now(),
		}
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "subscribe",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	deliveries, err := ch.Consume(
		queue,
		c.consumerTag,
		true, // auto-ack
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: c.consumerTag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	c.ch = ch
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.processMessages(consumerCtx, queue, deliveries, handler, onClosed)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", c.consumerTag)

	return nil
}

func (c *Consumer) processMessages(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler DeliveryHandler, onClosed func(error)) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("consumer stopped", "queue", queue)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("delivery channel closed", "queue", queue)
				if onClosed != nil {
					// off this goroutine: onClosed may end in Close, which waits for it
					go onClosed(&ConsumerError{
						Queue:       queue,
						ConsumerTag: c.consumerTag,
						Op:          "consume",
						Err:         ErrConsumerCancelled,
						Timestamp:   time.Now(),
					})
				}
				return
			}
			handler(delivery)
		}
	}
}

// Close cancels the subscription and closes its channel
func (c *Consumer) Close() error {
	c.mu.Lock()
	ch, cancel, done := c.ch, c.cancel, c.done
	c.ch = nil
	c.mu.Unlock()

	if ch == nil {
		return nil
	}
	cancel()
	<-done

	if ch.IsClosed() {
		return nil
	}
	return ch.Close()
}
