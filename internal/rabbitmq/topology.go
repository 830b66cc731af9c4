package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares and checks the entities a client needs. Each
// operation runs on a short-lived channel, since a failed declare closes
// the channel it ran on.
type TopologyManager struct {
	conn *ConnectionManager
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(conn *ConnectionManager) *TopologyManager {
	return &TopologyManager{
		conn: conn,
	}
}

// DeclareReplyQueue declares a server-side private queue: exclusive to
// this connection and deleted with it
func (tm *TopologyManager) DeclareReplyQueue(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueDeclare(
			name,
			false, // durable
			true,  // auto-delete
			true,  // exclusive
			false, // no-wait
			nil,
		)
		return err
	})
	if err != nil {
		return amqp.Queue{}, &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return q, nil
}

// CheckExchange passively declares exchange, failing if it does not exist
func (tm *TopologyManager) CheckExchange(ctx context.Context, name string) error {
	err := tm.execute(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclarePassive(
			name,
			amqp.ExchangeTopic,
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		)
	})
	if err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      name,
			Op:        "check",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// InspectQueue passively declares queue and returns its counters
func (tm *TopologyManager) InspectQueue(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := tm.execute(ctx, func(ch *amqp.Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, false, true, true, false, nil)
		return err
	})
	if err != nil {
		return amqp.Queue{}, &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "inspect",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return q, nil
}

// execute runs fn on a fresh channel and gives up when ctx expires. The
// channel is closed either way; an abandoned fn finishes in the
// background.
func (tm *TopologyManager) execute(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := tm.conn.Channel()
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ch)
	}()

	select {
	case err := <-errChan:
		if !ch.IsClosed() {
			ch.Close()
		}
		return err
	case <-ctx.Done():
		go func() {
			<-errChan
			if !ch.IsClosed() {
				ch.Close()
			}
		}()
		return ctx.Err()
	}
}
