package messaging

import (
	"testing"

	"github.com/capy-amqp/capy-go/contracts"
	"github.com/stretchr/testify/assert"
)

func TestHandlerFuncs(t *testing.T) {
	t.Run("nil functions are no-ops", func(t *testing.T) {
		var h Handler = HandlerFuncs{}

		assert.NotPanics(t, func() {
			h.OnData(contracts.Payload(`1`))
			h.OnError(1, "x")
			h.OnSuccess()
			h.OnFinalize()
		})
	})

	t.Run("calls the set functions", func(t *testing.T) {
		var got []string
		h := HandlerFuncs{
			Data:     func(data contracts.Payload) { got = append(got, data.String()) },
			Error:    func(code int, message string) { got = append(got, message) },
			Success:  func() { got = append(got, "success") },
			Finalize: func() { got = append(got, "finalize") },
		}

		h.OnData(contracts.Payload(`{"a":1}`))
		h.OnError(3, "bad")
		h.OnSuccess()
		h.OnFinalize()

		assert.Equal(t, []string{`{"a":1}`, "bad", "success", "finalize"}, got)
	})

	t.Run("NopHandler satisfies Handler", func(t *testing.T) {
		var h Handler = NopHandler{}
		assert.NotPanics(t, func() { h.OnFinalize() })
	})
}
