package messaging

import (
	"context"
	"time"

	"github.com/capy-amqp/capy-go/address"
)

// InboundMessage is a delivery from the private reply queue
type InboundMessage struct {
	CorrelationID string
	// Type is the AMQP type property, used as reply discriminator
	// when the body carries none
	Type    string
	Body    []byte
	Headers map[string]interface{}
}

// OutboundMessage is a request as it goes on the wire
type OutboundMessage struct {
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Body          []byte
	Timestamp     time.Time
	Headers       map[string]interface{}
}

// Transport owns the physical connection of one Broker
type Transport interface {
	// DeclarePrivateQueue declares an exclusive, auto-deleted queue and
	// returns its final name
	DeclarePrivateQueue(ctx context.Context, name string) (string, error)

	// Subscribe delivers every message of queue to handler, one at a time
	Subscribe(ctx context.Context, queue string, handler func(InboundMessage)) error

	// Publish sends msg to exchange with routingKey
	Publish(ctx context.Context, exchange, routingKey string, msg OutboundMessage) error

	// Ping performs one protocol round trip with the broker
	Ping(ctx context.Context) error

	// NotifyFatal registers fn for connection-level errors. fn is called
	// at most once, from a transport goroutine.
	NotifyFatal(fn func(error))

	// Close releases the connection
	Close() error
}

// Dialer opens Transports
type Dialer interface {
	Dial(ctx context.Context, addr address.Address, heartbeat time.Duration) (Transport, error)
}

// DialerFunc is a function adapter for Dialer
type DialerFunc func(ctx context.Context, addr address.Address, heartbeat time.Duration) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, addr address.Address, heartbeat time.Duration) (Transport, error) {
	return f(ctx, addr, heartbeat)
}
