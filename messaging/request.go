package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/capy-amqp/capy-go/contracts"
)

// Status is the lifecycle position of a Request
type Status int

const (
	// StatusCreated: correlation id assigned, not on the wire yet
	StatusCreated Status = iota
	// StatusSent: in the request table and published
	StatusSent
	// StatusResponding: at least one data event delivered
	StatusResponding
	// StatusSucceeded: terminal, success delivered
	StatusSucceeded
	// StatusFailed: terminal, error delivered
	StatusFailed
	// StatusFinalized: finalize delivered, no further events
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusSent:
		return "sent"
	case StatusResponding:
		return "responding"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the outcome has been decided
func (s Status) IsTerminal() bool {
	return s >= StatusSucceeded
}

// Request is a single fetch and its callback chain
type Request struct {
	id         string
	routingKey string
	body       []byte
	encodeErr  error
	logger     *slog.Logger

	mu     sync.Mutex
	status Status
	chain  HandlerFuncs
}

func newRequest(id, routingKey string, message interface{}, logger *slog.Logger) *Request {
	r := &Request{
		id:         id,
		routingKey: routingKey,
		logger:     logger,
		status:     StatusCreated,
	}
	r.body, r.encodeErr = encodeMessage(message)
	return r
}

// encodeMessage passes raw bytes through and JSON-encodes everything else
func encodeMessage(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	case contracts.Payload:
		return m, nil
	}
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return body, nil
}

// ID returns the correlation id
func (r *Request) ID() string { return r.id }

// RoutingKey returns the routing key the request is published with
func (r *Request) RoutingKey() string { return r.routingKey }

// Status returns the current lifecycle status
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// register mutates the chain while the request is still Created
func (r *Request) register(event string, fn func(*HandlerFuncs)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusCreated {
		r.logger.Warn("handler registered after send is ignored",
			"correlationId", r.id,
			"event", event,
			"status", r.status.String())
		return false
	}
	fn(&r.chain)
	return true
}

// markSent moves Created to Sent
func (r *Request) markSent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusCreated {
		return false
	}
	r.status = StatusSent
	return true
}

// deliverData invokes the data handler unless the request is terminal
func (r *Request) deliverData(data contracts.Payload) bool {
	r.mu.Lock()
	if r.status != StatusSent && r.status != StatusResponding {
		r.mu.Unlock()
		return false
	}
	r.status = StatusResponding
	fn := r.chain.Data
	r.mu.Unlock()

	if fn != nil {
		r.invoke("data", func() { fn(data) })
	}
	return true
}

// terminate delivers the outcome then finalize, at most once. A nil err
// means success. The chain is dropped before finalize returns so the
// caller's handler is never retained.
func (r *Request) terminate(err *contracts.Error) bool {
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	if err == nil {
		r.status = StatusSucceeded
	} else {
		r.status = StatusFailed
	}
	chain := r.chain
	r.mu.Unlock()

	if err == nil {
		if chain.Success != nil {
			r.invoke("success", chain.Success)
		}
	} else if chain.Error != nil {
		r.invoke("error", func() { chain.Error(err.Code, err.Message) })
	}

	r.mu.Lock()
	r.status = StatusFinalized
	r.chain = HandlerFuncs{}
	r.mu.Unlock()

	if chain.Finalize != nil {
		r.invoke("finalize", chain.Finalize)
	}
	return true
}

// invoke runs a caller callback, containing panics
func (r *Request) invoke(event string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in fetch handler",
				"correlationId", r.id,
				"event", event,
				"panic", p)
		}
	}()
	fn()
}
