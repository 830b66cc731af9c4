package messaging

import (
	"context"

	"github.com/capy-amqp/capy-go/contracts"
)

// Call is the chain builder returned by Broker.Fetch. Handlers must be
// registered before Send: nothing is published until then, so no event
// can be delivered to a half-built chain. Registration after Send is
// ignored and logged.
//
// The exactly-once terminal event and OnFinalize are only guaranteed once
// Send is called. An unsent Call is invisible to the broker and is never
// finalized, not even by Close.
type Call struct {
	broker *Broker
	req    *Request
}

// OnData registers the handler for data events
func (c *Call) OnData(fn func(data contracts.Payload)) *Call {
	c.req.register("data", func(h *HandlerFuncs) { h.Data = fn })
	return c
}

// OnError registers the handler for the error outcome
func (c *Call) OnError(fn func(code int, message string)) *Call {
	c.req.register("error", func(h *HandlerFuncs) { h.Error = fn })
	return c
}

// OnSuccess registers the handler for the success outcome
func (c *Call) OnSuccess(fn func()) *Call {
	c.req.register("success", func(h *HandlerFuncs) { h.Success = fn })
	return c
}

// OnFinalize registers the handler called last, whatever the outcome
func (c *Call) OnFinalize(fn func()) *Call {
	c.req.register("finalize", func(h *HandlerFuncs) { h.Finalize = fn })
	return c
}

// Handle registers all four events from h, replacing earlier
// registrations
func (c *Call) Handle(h Handler) *Call {
	if h == nil {
		return c
	}
	c.req.register("handler", func(chain *HandlerFuncs) {
		chain.Data = h.OnData
		chain.Error = h.OnError
		chain.Success = h.OnSuccess
		chain.Finalize = h.OnFinalize
	})
	return c
}

// Send publishes the request and returns its correlation id. It does not
// wait for any reply; the outcome arrives through the registered
// handlers. Sending twice is a no-op.
func (c *Call) Send(ctx context.Context) string {
	c.broker.send(ctx, c.req)
	return c.req.id
}

// CorrelationID returns the id replies are matched on
func (c *Call) CorrelationID() string {
	return c.req.id
}

// Status returns the request's lifecycle status
func (c *Call) Status() Status {
	return c.req.Status()
}
