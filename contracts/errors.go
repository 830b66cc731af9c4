package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors a request can terminate with
type ErrorKind int

const (
	// KindApplication is an error reported by the responder
	KindApplication ErrorKind = iota
	// KindDecoding means the reply body could not be understood
	KindDecoding
	// KindConnectionLost means the broker connection died
	KindConnectionLost
	// KindBrokerClosed means the broker was closed by its owner
	KindBrokerClosed
	// KindPublishFailed means the request never reached the exchange
	KindPublishFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindDecoding:
		return "decoding"
	case KindConnectionLost:
		return "connection lost"
	case KindBrokerClosed:
		return "broker closed"
	case KindPublishFailed:
		return "publish failed"
	default:
		return "unknown"
	}
}

// Reserved codes for errors raised by the client itself. Responders
// should use non-negative codes.
const (
	CodeDecodingError  = -1
	CodeConnectionLost = -2
	CodeBrokerClosed   = -3
	CodePublishFailed  = -4
)

var (
	ErrDecoding       = errors.New("capy: malformed reply")
	ErrConnectionLost = errors.New("capy: connection lost")
	ErrBrokerClosed   = errors.New("capy: broker closed")
	ErrPublishFailed  = errors.New("capy: publish failed")
)

// Error is the terminal error of a single request
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capy %s error %d: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDecoding:
		return e.Kind == KindDecoding
	case ErrConnectionLost:
		return e.Kind == KindConnectionLost
	case ErrBrokerClosed:
		return e.Kind == KindBrokerClosed
	case ErrPublishFailed:
		return e.Kind == KindPublishFailed
	}
	return false
}

// NewApplicationError wraps a responder error
func NewApplicationError(code int, message string) *Error {
	return &Error{Kind: KindApplication, Code: code, Message: message}
}

// NewDecodingError wraps a body that failed to decode
func NewDecodingError(err error) *Error {
	return &Error{Kind: KindDecoding, Code: CodeDecodingError, Message: err.Error(), Err: err}
}

// NewConnectionLostError wraps the cause of a dead connection
func NewConnectionLostError(err error) *Error {
	msg := "connection lost"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindConnectionLost, Code: CodeConnectionLost, Message: msg, Err: err}
}

// NewBrokerClosedError is delivered to requests pending at teardown
func NewBrokerClosedError() *Error {
	return &Error{Kind: KindBrokerClosed, Code: CodeBrokerClosed, Message: "broker closed"}
}

// NewPublishError wraps a failed publish or request encoding
func NewPublishError(err error) *Error {
	return &Error{Kind: KindPublishFailed, Code: CodePublishFailed, Message: err.Error(), Err: err}
}

// AsError converts any error into a request *Error, treating unknown
// errors as application errors with code 0
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindApplication, Message: err.Error(), Err: err}
}
