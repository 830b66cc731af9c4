package messaging

import (
	"errors"
	"fmt"
	"time"
)

// ErrHeartbeatTimeout is the fatal error raised when the broker stops
// answering liveness probes
var ErrHeartbeatTimeout = errors.New("capy: heartbeat timeout")

// heartbeat tracks liveness probes. It is owned by the I/O goroutine and
// is not safe for concurrent use.
type heartbeat struct {
	timeout  time.Duration
	lastAck  time.Time
	inFlight bool
}

func newHeartbeat(timeout time.Duration, now time.Time) *heartbeat {
	return &heartbeat{
		timeout: timeout,
		lastAck: now,
	}
}

// interval is the probe period, half the timeout
func (h *heartbeat) interval() time.Duration {
	return h.timeout / 2
}

// tick fails when nothing was acknowledged within the timeout, otherwise
// reports whether a new probe should go out. At most one probe is in
// flight at a time.
func (h *heartbeat) tick(now time.Time) (probe bool, err error) {
	if silent := now.Sub(h.lastAck); silent > h.timeout {
		return false, fmt.Errorf("%w: no acknowledgment for %s", ErrHeartbeatTimeout, silent.Round(time.Millisecond))
	}
	if h.inFlight {
		return false, nil
	}
	h.inFlight = true
	return true, nil
}

// ack records the outcome of a probe
func (h *heartbeat) ack(at time.Time, err error) {
	h.inFlight = false
	if err == nil && at.After(h.lastAck) {
		h.lastAck = at
	}
}
