package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/capy-amqp/capy-go/messaging"
)

// DefaultProbeTimeout bounds the liveness round trip of a check
const DefaultProbeTimeout = 5 * time.Second

// Broker is the part of *messaging.Broker a BrokerChecker inspects
type Broker interface {
	State() messaging.State
	Ping(ctx context.Context) error
	Pending() int
	Discarded() uint64
	ReplyQueue() string
}

// BrokerChecker checks a bound broker: its lifecycle state and one
// liveness round trip on its connection
type BrokerChecker struct {
	broker       Broker
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewBrokerChecker creates a new broker health checker
func NewBrokerChecker(broker Broker, logger *slog.Logger) *BrokerChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokerChecker{
		broker:       broker,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger,
	}
}

func (c *BrokerChecker) Name() string {
	return "amqp_broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.broker.State()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"state":             state.String(),
			"reply_queue":       c.broker.ReplyQueue(),
			"pending_requests":  c.broker.Pending(),
			"discarded_replies": c.broker.Discarded(),
		},
	}

	if state == messaging.StateClosed {
		result.Status = StatusUnhealthy
		result.Message = "broker is closed"
		result.Duration = time.Since(start)
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	err := c.broker.Ping(probeCtx)
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	switch {
	case err != nil:
		c.logger.Warn("broker health probe failed", "error", err)
		result.Status = StatusUnhealthy
		result.Message = "liveness probe failed"
		result.Error = err.Error()
	case state == messaging.StateBound:
		result.Status = StatusDegraded
		result.Message = "broker is bound but not running"
	default:
		result.Status = StatusHealthy
		result.Message = "broker is healthy"
	}

	return result
}
