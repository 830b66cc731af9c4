package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnectionRefused = errors.New("capy: connection refused")
	ErrAuthFailed        = errors.New("capy: authentication failed")
	ErrBindTimeout       = errors.New("capy: bind timeout")

	// ErrInvalidConfiguration is returned by Bind for unusable options
	ErrInvalidConfiguration = errors.New("capy: invalid configuration")
)

// BindErrorKind classifies why Bind failed
type BindErrorKind int

const (
	ConnectionRefused BindErrorKind = iota
	AuthFailed
	Timeout
)

func (k BindErrorKind) String() string {
	switch k {
	case ConnectionRefused:
		return "connection refused"
	case AuthFailed:
		return "authentication failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// BindError is returned by Bind and by Dialer implementations
type BindError struct {
	Kind      BindErrorKind
	Op        string // dial, declare reply queue, subscribe
	URL       string // sanitized
	Err       error
	Timestamp time.Time
}

func (e *BindError) Error() string {
	return fmt.Sprintf("capy bind error: %s failed for %s (%s): %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind
func (e *BindError) Is(target error) bool {
	switch target {
	case ErrConnectionRefused:
		return e.Kind == ConnectionRefused
	case ErrAuthFailed:
		return e.Kind == AuthFailed
	case ErrBindTimeout:
		return e.Kind == Timeout
	}
	return false
}

// NewBindError stamps a BindError with the current time
func NewBindError(kind BindErrorKind, op, url string, err error) *BindError {
	return &BindError{
		Kind:      kind,
		Op:        op,
		URL:       url,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// asBindError keeps an existing BindError and classifies anything else
// as refused
func asBindError(op, url string, err error) *BindError {
	var bindErr *BindError
	if errors.As(err, &bindErr) {
		return bindErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewBindError(Timeout, op, url, err)
	}
	return NewBindError(ConnectionRefused, op, url, err)
}
