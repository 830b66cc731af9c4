package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capy-amqp/capy-go/address"
	"github.com/capy-amqp/capy-go/contracts"
	"github.com/google/uuid"
)

const (
	// DefaultExchange is the broker's built-in topic exchange
	DefaultExchange = "amq.topic"
	// DefaultHeartbeat is the liveness timeout; zero disables supervision
	DefaultHeartbeat = 10 * time.Second
	// MinHeartbeat is the smallest non-zero liveness timeout accepted
	MinHeartbeat = time.Millisecond
	// DefaultPublishTimeout bounds a single publish
	DefaultPublishTimeout = 5 * time.Second
	// DefaultInboxSize is the number of transport events buffered for the
	// I/O goroutine
	DefaultInboxSize = 256
)

// State is the lifecycle position of a Broker
type State int

const (
	// StateBound: connected, I/O goroutine not started
	StateBound State = iota
	// StateRunning: I/O goroutine active
	StateRunning
	// StateClosed: torn down, all requests finalized
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type brokerConfig struct {
	exchange       string
	heartbeat      time.Duration
	onFatal        func(error)
	dialer         Dialer
	logger         *slog.Logger
	publishTimeout time.Duration
	inboxSize      int
	replyQueue     string
}

// BrokerOption configures Bind
type BrokerOption func(*brokerConfig)

// WithExchange sets the topic exchange requests are published to
func WithExchange(name string) BrokerOption {
	return func(c *brokerConfig) {
		c.exchange = name
	}
}

// WithHeartbeat sets the liveness timeout. Zero disables supervision.
func WithHeartbeat(timeout time.Duration) BrokerOption {
	return func(c *brokerConfig) {
		c.heartbeat = timeout
	}
}

// WithFatalErrorHandler sets the callback invoked once when the
// connection is declared dead
func WithFatalErrorHandler(fn func(error)) BrokerOption {
	return func(c *brokerConfig) {
		c.onFatal = fn
	}
}

// WithDialer sets the transport dialer
func WithDialer(d Dialer) BrokerOption {
	return func(c *brokerConfig) {
		c.dialer = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(c *brokerConfig) {
		c.logger = logger
	}
}

// WithPublishTimeout bounds each publish
func WithPublishTimeout(timeout time.Duration) BrokerOption {
	return func(c *brokerConfig) {
		c.publishTimeout = timeout
	}
}

// WithInboxSize sets how many transport events may queue for the I/O
// goroutine before the transport is back-pressured
func WithInboxSize(size int) BrokerOption {
	return func(c *brokerConfig) {
		c.inboxSize = size
	}
}

// WithReplyQueue overrides the generated private queue name
func WithReplyQueue(name string) BrokerOption {
	return func(c *brokerConfig) {
		c.replyQueue = name
	}
}

func (c *brokerConfig) validate() error {
	switch {
	case c.dialer == nil:
		return fmt.Errorf("%w: dialer is required", ErrInvalidConfiguration)
	case c.heartbeat < 0:
		return fmt.Errorf("%w: heartbeat must not be negative", ErrInvalidConfiguration)
	case c.heartbeat > 0 && c.heartbeat < MinHeartbeat:
		return fmt.Errorf("%w: heartbeat must be zero or at least %s", ErrInvalidConfiguration, MinHeartbeat)
	case c.publishTimeout <= 0:
		return fmt.Errorf("%w: publish timeout must be positive", ErrInvalidConfiguration)
	case c.inboxSize < 1:
		return fmt.Errorf("%w: inbox size must be at least 1", ErrInvalidConfiguration)
	case c.logger == nil:
		return fmt.Errorf("%w: logger is required", ErrInvalidConfiguration)
	}
	return nil
}

// Broker is one bound connection: a private reply queue, a table of
// outstanding requests and the I/O goroutine that delivers their events.
//
// Fetch, Run and Close are safe for concurrent use. Handlers run on the
// I/O goroutine; calling Close from inside a handler deadlocks.
type Broker struct {
	addr           address.Address
	exchange       string
	heartbeat      time.Duration
	onFatal        func(error)
	transport      Transport
	replyQueue     string
	publishTimeout time.Duration
	logger         *slog.Logger

	table      *requestTable
	dispatcher *Dispatcher
	nextID     atomic.Uint64

	mu    sync.Mutex
	state State

	ctx    context.Context // subscription lifetime
	cancel context.CancelFunc

	inbox    chan event
	quit     chan struct{}
	done     chan struct{} // teardown started
	finished chan struct{} // teardown complete
	stopped  chan struct{} // I/O goroutine exited

	teardownOnce sync.Once
	closeErr     error
}

type event interface{}

type deliveryEvent struct {
	msg InboundMessage
}

type publishFailedEvent struct {
	id  string
	err error
}

type fatalEvent struct {
	err error
}

type pongEvent struct {
	err error
}

// Bind connects to addr, declares the private reply queue and subscribes
// to it. On failure nothing is left open and the error is a *BindError
// (or wraps ErrInvalidConfiguration).
func Bind(ctx context.Context, addr address.Address, options ...BrokerOption) (*Broker, error) {
	cfg := &brokerConfig{
		exchange:       DefaultExchange,
		heartbeat:      DefaultHeartbeat,
		logger:         slog.Default(),
		publishTimeout: DefaultPublishTimeout,
		inboxSize:      DefaultInboxSize,
		replyQueue:     "capy.reply." + uuid.New().String(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	url := addr.String()
	transport, err := cfg.dialer.Dial(ctx, addr, cfg.heartbeat)
	if err != nil {
		return nil, asBindError("dial", url, err)
	}

	queue, err := transport.DeclarePrivateQueue(ctx, cfg.replyQueue)
	if err != nil {
		transport.Close()
		return nil, asBindError("declare reply queue", url, err)
	}

	table := newRequestTable()
	subCtx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		addr:           addr,
		exchange:       cfg.exchange,
		heartbeat:      cfg.heartbeat,
		onFatal:        cfg.onFatal,
		transport:      transport,
		replyQueue:     queue,
		publishTimeout: cfg.publishTimeout,
		logger:         cfg.logger,
		table:          table,
		dispatcher:     newDispatcher(table, cfg.logger),
		state:          StateBound,
		ctx:            subCtx,
		cancel:         cancel,
		inbox:          make(chan event, cfg.inboxSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		finished:       make(chan struct{}),
		stopped:        make(chan struct{}),
	}

	transport.NotifyFatal(b.onTransportFatal)

	if err := transport.Subscribe(subCtx, queue, b.onDelivery); err != nil {
		cancel()
		transport.Close()
		return nil, asBindError("subscribe", url, err)
	}

	b.logger.Info("bound to broker",
		"url", url,
		"exchange", b.exchange,
		"replyQueue", queue,
		"heartbeat", b.heartbeat)

	return b, nil
}

// Run starts the I/O goroutine. It returns immediately and is a no-op
// when already running or closed.
func (b *Broker) Run() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateBound {
		return
	}
	b.state = StateRunning
	go b.loop()
}

// Fetch allocates a request for message on routingKey. Register handlers
// on the returned Call, then Send it. A Call that is never sent is not
// tracked by the broker: it gets no terminal event, and Close does not
// finalize it.
func (b *Broker) Fetch(message interface{}, routingKey string) *Call {
	id := strconv.FormatUint(b.nextID.Add(1), 10)
	return &Call{
		broker: b,
		req:    newRequest(id, routingKey, message, b.logger),
	}
}

// Close tears the broker down. Every pending request receives
// OnError(CodeBrokerClosed) and OnFinalize before the transport is
// closed. Close is idempotent; only the first call reports the transport
// close error. A Close that finds the broker already shutting down
// (fatal error, heartbeat loss or a concurrent Close) waits until that
// teardown has finalized every request.
//
// Close waits for the I/O goroutine, so calling it from inside a callback
// or the fatal error handler deadlocks; use go broker.Close() there.
func (b *Broker) Close() error {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		<-b.finished
		return nil
	case StateBound:
		b.state = StateClosed
		b.mu.Unlock()
		b.teardown(contracts.NewBrokerClosedError())
		return b.closeErr
	}
	b.state = StateClosed
	b.mu.Unlock()

	close(b.quit)
	<-b.stopped
	return b.closeErr
}

// Done is closed once the broker is torn down and every pending request
// has been finalized
func (b *Broker) Done() <-chan struct{} {
	return b.finished
}

// State returns the lifecycle state
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ReplyQueue returns the private reply queue name
func (b *Broker) ReplyQueue() string { return b.replyQueue }

// Exchange returns the exchange requests are published to
func (b *Broker) Exchange() string { return b.exchange }

// Address returns the address the broker is bound to
func (b *Broker) Address() address.Address { return b.addr }

// Pending returns the number of requests awaiting their outcome
func (b *Broker) Pending() int { return b.table.len() }

// Discarded returns the number of replies that matched no request
func (b *Broker) Discarded() uint64 { return b.dispatcher.Discarded() }

// Ping runs one liveness round trip on the transport
func (b *Broker) Ping(ctx context.Context) error {
	return b.transport.Ping(ctx)
}

// send inserts req into the table, then publishes it. Insertion happens
// before publish so a fast reply always finds its entry.
func (b *Broker) send(ctx context.Context, req *Request) {
	if !req.markSent() {
		b.logger.Warn("request already sent", "correlationId", req.id)
		return
	}

	if !b.table.insert(req) {
		// closed between Fetch and Send; there is no I/O goroutine left
		req.terminate(contracts.NewBrokerClosedError())
		return
	}

	if req.encodeErr != nil {
		b.post(publishFailedEvent{id: req.id, err: req.encodeErr})
		return
	}

	msg := OutboundMessage{
		CorrelationID: req.id,
		ReplyTo:       b.replyQueue,
		ContentType:   "application/json",
		Body:          req.body,
		Timestamp:     time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	if err := b.transport.Publish(pubCtx, b.exchange, req.routingKey, msg); err != nil {
		b.logger.Error("failed to publish request",
			"correlationId", req.id,
			"exchange", b.exchange,
			"routingKey", req.routingKey,
			"error", err)
		b.post(publishFailedEvent{id: req.id, err: err})
		return
	}

	b.logger.Debug("request sent",
		"correlationId", req.id,
		"routingKey", req.routingKey)
}

// post hands an event to the I/O goroutine. It reports false once
// teardown has started.
func (b *Broker) post(ev event) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.inbox <- ev:
		return true
	case <-b.done:
		return false
	}
}

func (b *Broker) onDelivery(msg InboundMessage) {
	b.post(deliveryEvent{msg: msg})
}

func (b *Broker) onTransportFatal(err error) {
	b.mu.Lock()
	switch b.state {
	case StateRunning:
		b.mu.Unlock()
		b.post(fatalEvent{err: err})
		return
	case StateClosed:
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	b.mu.Unlock()

	// not running yet: handle it here
	b.die(err)
}

// loop is the I/O goroutine
func (b *Broker) loop() {
	defer close(b.stopped)

	var (
		tick <-chan time.Time
		hb   *heartbeat
	)
	if b.heartbeat > 0 {
		hb = newHeartbeat(b.heartbeat, time.Now())
		ticker := time.NewTicker(hb.interval())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-b.quit:
			b.teardown(contracts.NewBrokerClosedError())
			return

		case ev := <-b.inbox:
			switch ev := ev.(type) {
			case deliveryEvent:
				b.dispatcher.Dispatch(ev.msg)
			case publishFailedEvent:
				b.dispatcher.Fail(ev.id, contracts.NewPublishError(ev.err))
			case pongEvent:
				if hb != nil {
					if ev.err != nil {
						b.logger.Warn("heartbeat probe failed", "error", ev.err)
					}
					hb.ack(time.Now(), ev.err)
				}
			case fatalEvent:
				b.fatal(ev.err)
				return
			}

		case now := <-tick:
			probe, err := hb.tick(now)
			if err != nil {
				b.fatal(err)
				return
			}
			if probe {
				go b.probe(hb.interval())
			}
		}
	}
}

// probe runs off the I/O goroutine so a stalled connection cannot block
// dispatch
func (b *Broker) probe(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()
	b.post(pongEvent{err: b.transport.Ping(ctx)})
}

// fatal handles a dead connection on the I/O goroutine
func (b *Broker) fatal(err error) {
	b.mu.Lock()
	closing := b.state == StateClosed
	b.state = StateClosed
	b.mu.Unlock()

	if closing {
		// Close won the race; report it as a normal close
		b.teardown(contracts.NewBrokerClosedError())
		return
	}
	b.die(err)
}

func (b *Broker) die(err error) {
	b.logger.Error("broker connection lost", "error", err)

	if b.onFatal != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					b.logger.Error("panic in fatal error handler", "panic", p)
				}
			}()
			b.onFatal(err)
		}()
	}
	b.teardown(contracts.NewConnectionLostError(err))
}

// teardown force-finalizes everything pending with reason, then closes
// the transport
func (b *Broker) teardown(reason *contracts.Error) {
	b.teardownOnce.Do(func() {
		close(b.done)
		b.cancel()

		pending := b.table.drain()
		for _, req := range pending {
			req.terminate(reason)
		}

		b.closeErr = b.transport.Close()
		close(b.finished)

		b.logger.Info("broker closed",
			"reason", reason.Kind.String(),
			"finalized", len(pending))
	})
}
