package messaging

import (
	"github.com/capy-amqp/capy-go/contracts"
)

// Handler receives the events of one fetch. All methods are called on
// the broker's I/O goroutine and must not block it: a slow handler
// delays every other request of the same broker.
//
// For each fetch the engine calls OnData zero or more times, then
// exactly one of OnSuccess or OnError, then OnFinalize. Nothing is called
// after OnFinalize and the handler is released.
type Handler interface {
	OnData(data contracts.Payload)
	OnError(code int, message string)
	OnSuccess()
	OnFinalize()
}

// NopHandler implements Handler with no-ops. Embed it to override only
// the events of interest.
type NopHandler struct{}

func (NopHandler) OnData(contracts.Payload) {}
func (NopHandler) OnError(int, string)      {}
func (NopHandler) OnSuccess()               {}
func (NopHandler) OnFinalize()              {}

// HandlerFuncs adapts optional functions to Handler
type HandlerFuncs struct {
	Data     func(data contracts.Payload)
	Error    func(code int, message string)
	Success  func()
	Finalize func()
}

func (h HandlerFuncs) OnData(data contracts.Payload) {
	if h.Data != nil {
		h.Data(data)
	}
}

func (h HandlerFuncs) OnError(code int, message string) {
	if h.Error != nil {
		h.Error(code, message)
	}
}

func (h HandlerFuncs) OnSuccess() {
	if h.Success != nil {
		h.Success()
	}
}

func (h HandlerFuncs) OnFinalize() {
	if h.Finalize != nil {
		h.Finalize()
	}
}
