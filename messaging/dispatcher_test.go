package messaging

import (
	"log/slog"
	"testing"

	"github.com/capy-amqp/capy-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *requestTable) {
	table := newRequestTable()
	return newDispatcher(table, slog.Default()), table
}

func sentRequest(t *testing.T, table *requestTable, id string, rec *recorder) *Request {
	t.Helper()
	req := newRequest(id, "rk", "x", slog.Default())
	if rec != nil {
		rec.attach(&Call{req: req})
	}
	require.True(t, req.markSent())
	require.True(t, table.insert(req))
	return req
}

func replyMessage(t *testing.T, id string, reply contracts.Reply) InboundMessage {
	t.Helper()
	body, err := contracts.EncodeReply(reply)
	require.NoError(t, err)
	return InboundMessage{CorrelationID: id, Body: body}
}

func TestDispatcher(t *testing.T) {
	t.Run("routes by correlation id", func(t *testing.T) {
		d, table := newTestDispatcher()
		a, b := newRecorder(), newRecorder()
		sentRequest(t, table, "a", a)
		sentRequest(t, table, "b", b)

		data, err := contracts.DataReply("for-b")
		require.NoError(t, err)
		d.Dispatch(replyMessage(t, "b", data))
		d.Dispatch(replyMessage(t, "a", contracts.ErrorReply(7, "nope")))
		d.Dispatch(replyMessage(t, "b", contracts.SuccessReply()))

		assert.Equal(t, []string{"error(7,nope)", "finalize"}, a.Events())
		assert.Equal(t, []string{`data:"for-b"`, "success", "finalize"}, b.Events())
		assert.Equal(t, 0, table.len())
		assert.Equal(t, uint64(0), d.Discarded())
	})

	t.Run("unknown id is counted", func(t *testing.T) {
		d, _ := newTestDispatcher()

		d.Dispatch(replyMessage(t, "ghost", contracts.SuccessReply()))

		assert.Equal(t, uint64(1), d.Discarded())
	})

	t.Run("unknown reply type is a decoding error", func(t *testing.T) {
		d, table := newTestDispatcher()
		rec := newRecorder()
		sentRequest(t, table, "a", rec)

		d.Dispatch(InboundMessage{CorrelationID: "a", Body: []byte(`{"type":"progress"}`)})

		events := rec.Events()
		require.Len(t, events, 2)
		assert.Contains(t, events[0], "error(-1,")
		assert.Contains(t, events[0], "progress")
	})

	t.Run("fail claims the request once", func(t *testing.T) {
		d, table := newTestDispatcher()
		rec := newRecorder()
		sentRequest(t, table, "a", rec)

		assert.True(t, d.Fail("a", contracts.NewPublishError(assert.AnError)))
		assert.False(t, d.Fail("a", contracts.NewPublishError(assert.AnError)))

		assert.Len(t, rec.Events(), 2)
		assert.Equal(t, uint64(1), d.Discarded())
	})
}
