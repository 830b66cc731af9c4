package rabbitmq

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/capy-amqp/capy-go/address"
	"github.com/capy-amqp/capy-go/internal/rabbitmq"
	"github.com/capy-amqp/capy-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	_ messaging.Dialer                 = (*Dialer)(nil)
	_ messaging.Transport              = (*Transport)(nil)
	_ rabbitmq.ConnectionStateListener = (*Transport)(nil)
)

// ConnectionName is reported to the server as the client connection name
const ConnectionName = "capy-go"

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	topology  *rabbitmq.TopologyManager
	logger    *slog.Logger

	exchange string

	mu         sync.Mutex
	replyQueue string
	onFatal    func(error)
	fatalOnce  sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
	TLSConfig         *tls.Config
	Logger            *slog.Logger

	// Exchange is checked by Ping until a reply queue is declared
	Exchange string
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets reply consumer options
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithTLSConfig overrides the TLS configuration used for amqps addresses
func WithTLSConfig(tlsConfig *tls.Config) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.TLSConfig = tlsConfig
	}
}

// WithExchange names the exchange the transport's broker publishes to
func WithExchange(name string) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Exchange = name
	}
}

// WithLogger sets the logger for the transport and its components
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// Dialer opens RabbitMQ transports. It implements messaging.Dialer.
type Dialer struct {
	options []TransportOption
}

// NewDialer creates a dialer applying options to every transport
func NewDialer(options ...TransportOption) *Dialer {
	return &Dialer{options: options}
}

// Dial connects to addr with the given AMQP heartbeat. Failures are
// *messaging.BindError classified as refused, auth failure or timeout.
func (d *Dialer) Dial(ctx context.Context, addr address.Address, heartbeat time.Duration) (messaging.Transport, error) {
	cfg := d.config()

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithHeartbeat(heartbeat),
		rabbitmq.WithConnectionName(ConnectionName),
		rabbitmq.WithLogger(cfg.Logger),
	}
	if addr.IsSecure() {
		tlsConfig := cfg.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{
				ServerName: addr.Host(),
				MinVersion: tls.VersionTLS12,
			}
		}
		connOpts = append(connOpts, rabbitmq.WithTLSConfig(tlsConfig))
	}
	connOpts = append(connOpts, cfg.ConnectionOptions...)

	uri := addr.URI()
	manager := rabbitmq.NewConnectionManager(uri.String(), connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, messaging.NewBindError(classifyDialError(err), "dial", addr.String(), err)
	}

	t := &Transport{
		manager:   manager,
		publisher: rabbitmq.NewPublisher(manager, append([]rabbitmq.PublisherOption{rabbitmq.WithPublisherLogger(cfg.Logger)}, cfg.PublisherOptions...)...),
		consumer:  rabbitmq.NewConsumer(manager, append([]rabbitmq.ConsumerOption{rabbitmq.WithConsumerLogger(cfg.Logger)}, cfg.ConsumerOptions...)...),
		topology:  rabbitmq.NewTopologyManager(manager),
		logger:    cfg.Logger,
		exchange:  cfg.Exchange,
	}
	manager.AddStateListener(t)

	return t, nil
}

func (d *Dialer) config() *TransportConfig {
	cfg := &TransportConfig{
		Logger:   slog.Default(),
		Exchange: messaging.DefaultExchange,
	}
	for _, opt := range d.options {
		opt(cfg)
	}
	return cfg
}

// classifyDialError maps a connect failure onto the bind error kinds
func classifyDialError(err error) messaging.BindErrorKind {
	switch {
	case rabbitmq.IsAuthFailure(err):
		return messaging.AuthFailed
	case rabbitmq.IsTimeout(err):
		return messaging.Timeout
	default:
		return messaging.ConnectionRefused
	}
}

// DeclarePrivateQueue declares the exclusive, auto-deleted reply queue
func (t *Transport) DeclarePrivateQueue(ctx context.Context, name string) (string, error) {
	q, err := t.topology.DeclareReplyQueue(ctx, name)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.replyQueue = q.Name
	t.mu.Unlock()

	return q.Name, nil
}

// Subscribe consumes queue with auto-ack. A consumer cancelled by the
// server is reported through NotifyFatal.
func (t *Transport) Subscribe(ctx context.Context, queue string, handler func(messaging.InboundMessage)) error {
	return t.consumer.Subscribe(ctx, queue, func(d amqp.Delivery) {
		handler(messaging.InboundMessage{
			CorrelationID: d.CorrelationId,
			Type:          d.Type,
			Body:          d.Body,
			Headers:       d.Headers,
		})
	}, t.fail)
}

// Publish sends a request as a transient message
func (t *Transport) Publish(ctx context.Context, exchange, routingKey string, msg messaging.OutboundMessage) error {
	return t.publisher.Publish(ctx, exchange, routingKey, amqp.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Timestamp:     msg.Timestamp,
		Headers:       amqp.Table(msg.Headers),
		DeliveryMode:  amqp.Transient,
		Body:          msg.Body,
	})
}

// Ping passively declares the reply queue, or the configured exchange
// before one exists
func (t *Transport) Ping(ctx context.Context) error {
	t.mu.Lock()
	queue := t.replyQueue
	t.mu.Unlock()

	if queue == "" {
		return t.topology.CheckExchange(ctx, t.exchange)
	}
	_, err := t.topology.InspectQueue(ctx, queue)
	return err
}

// NotifyFatal registers fn for connection-level errors
func (t *Transport) NotifyFatal(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFatal = fn
}

// OnConnected implements rabbitmq.ConnectionStateListener
func (t *Transport) OnConnected() {}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (t *Transport) OnDisconnected(err error) {
	t.fail(err)
}

func (t *Transport) fail(err error) {
	t.fatalOnce.Do(func() {
		t.mu.Lock()
		fn := t.onFatal
		t.mu.Unlock()

		t.logger.Error("transport failed", "error", err)
		if fn != nil {
			fn(err)
		}
	})
}

// Close stops the consumer and closes the connection
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.manager.RemoveStateListener(t)
		if err := t.consumer.Close(); err != nil {
			t.logger.Debug("failed to close consumer channel", "error", err)
		}
		if err := t.publisher.Close(); err != nil {
			t.logger.Debug("failed to close publishing channel", "error", err)
		}
		t.closeErr = t.manager.Close()
	})
	return t.closeErr
}
