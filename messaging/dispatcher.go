package messaging

import (
	"log/slog"
	"sync/atomic"

	"github.com/capy-amqp/capy-go/contracts"
)

// Dispatcher correlates reply-queue messages with outstanding requests
// and drives their state machines. It only runs on the broker's I/O
// goroutine, so callbacks for different requests never overlap.
type Dispatcher struct {
	table     *requestTable
	logger    *slog.Logger
	discarded atomic.Uint64
}

func newDispatcher(table *requestTable, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		table:  table,
		logger: logger,
	}
}

// Dispatch routes one inbound message
func (d *Dispatcher) Dispatch(msg InboundMessage) {
	req := d.table.lookup(msg.CorrelationID)
	if req == nil {
		d.discard(msg.CorrelationID, "no pending request")
		return
	}

	reply, err := contracts.DecodeReply(msg.Body, msg.Type)
	if err != nil {
		d.logger.Warn("undecodable reply",
			"correlationId", msg.CorrelationID,
			"error", err)
		d.Fail(msg.CorrelationID, contracts.AsError(err))
		return
	}

	switch reply.Kind {
	case contracts.ReplyData:
		if !req.deliverData(contracts.Payload(reply.Data)) {
			d.discard(msg.CorrelationID, "request already terminal")
		}
	case contracts.ReplySuccess:
		d.complete(msg.CorrelationID, nil)
	case contracts.ReplyError:
		d.complete(msg.CorrelationID, contracts.NewApplicationError(reply.Code, reply.Message))
	}
}

// Fail terminates the request with err. It reports false when the
// request was already claimed.
func (d *Dispatcher) Fail(id string, err *contracts.Error) bool {
	return d.complete(id, err)
}

// Discarded returns how many messages matched no pending request
func (d *Dispatcher) Discarded() uint64 {
	return d.discarded.Load()
}

func (d *Dispatcher) complete(id string, err *contracts.Error) bool {
	req := d.table.claim(id)
	if req == nil {
		d.discard(id, "request already finalized")
		return false
	}
	return req.terminate(err)
}

func (d *Dispatcher) discard(id, reason string) {
	d.discarded.Add(1)
	d.logger.Debug("discarding reply",
		"correlationId", id,
		"reason", reason)
}
