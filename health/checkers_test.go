package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/capy-amqp/capy-go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) State() messaging.State {
	return m.Called().Get(0).(messaging.State)
}

func (m *mockBroker) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBroker) Pending() int {
	return m.Called().Int(0)
}

func (m *mockBroker) Discarded() uint64 {
	return m.Called().Get(0).(uint64)
}

func (m *mockBroker) ReplyQueue() string {
	return m.Called().String(0)
}

func newMockBroker(state messaging.State, pingErr error) *mockBroker {
	b := &mockBroker{}
	b.On("State").Return(state)
	b.On("Ping", mock.Anything).Return(pingErr)
	b.On("Pending").Return(3)
	b.On("Discarded").Return(uint64(1))
	b.On("ReplyQueue").Return("capy.reply.test")
	return b
}

func TestBrokerChecker(t *testing.T) {
	t.Run("running and answering is healthy", func(t *testing.T) {
		checker := NewBrokerChecker(newMockBroker(messaging.StateRunning, nil), nil)

		result := checker.Check(context.Background())

		assert.Equal(t, "amqp_broker", result.Name)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, 3, result.Details["pending_requests"])
		assert.Equal(t, "capy.reply.test", result.Details["reply_queue"])
		assert.Contains(t, result.Details, "response_time_ms")
	})

	t.Run("bound but not running is degraded", func(t *testing.T) {
		checker := NewBrokerChecker(newMockBroker(messaging.StateBound, nil), nil)

		result := checker.Check(context.Background())

		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, "bound", result.Details["state"])
	})

	t.Run("failed probe is unhealthy", func(t *testing.T) {
		checker := NewBrokerChecker(newMockBroker(messaging.StateRunning, errors.New("channel closed")), nil)

		result := checker.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "channel closed", result.Error)
	})

	t.Run("closed broker is not probed", func(t *testing.T) {
		b := newMockBroker(messaging.StateClosed, nil)
		checker := NewBrokerChecker(b, nil)

		result := checker.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		b.AssertNotCalled(t, "Ping", mock.Anything)
	})
}

type staticChecker struct {
	name   string
	status Status
	delay  time.Duration
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) CheckResult {
	time.Sleep(c.delay)
	return CheckResult{Name: c.name, Status: c.status}
}

func TestRegistry(t *testing.T) {
	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{name: "a", status: StatusHealthy})
		r.Register(staticChecker{name: "b", status: StatusDegraded})

		health := r.Check(context.Background())
		assert.Equal(t, StatusDegraded, health.Status)
		assert.Len(t, health.Checks, 2)

		r.Register(staticChecker{name: "c", status: StatusUnhealthy})
		assert.Equal(t, StatusUnhealthy, r.Check(context.Background()).Status)

		r.Unregister("c")
		assert.Equal(t, StatusDegraded, r.Check(context.Background()).Status)
	})

	t.Run("slow checks time out", func(t *testing.T) {
		r := NewRegistry()
		r.Register(staticChecker{name: "slow", status: StatusHealthy, delay: time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		health := r.Check(ctx)
		assert.Equal(t, StatusUnhealthy, health.Status)
		assert.Equal(t, "check timed out", health.Checks["slow"].Message)
	})

	t.Run("empty registry is healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewRegistry().Check(context.Background()).Status)
	})
}
