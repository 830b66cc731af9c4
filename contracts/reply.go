package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ReplyKind discriminates the events a responder can send back
type ReplyKind string

const (
	// ReplyData carries one chunk of the response stream
	ReplyData ReplyKind = "data"
	// ReplySuccess is the completion marker
	ReplySuccess ReplyKind = "success"
	// ReplyError terminates the request with an application error
	ReplyError ReplyKind = "error"
)

// Valid reports whether k is a known reply kind
func (k ReplyKind) Valid() bool {
	switch k {
	case ReplyData, ReplySuccess, ReplyError:
		return true
	}
	return false
}

// Reply is the wire envelope of every message arriving on a reply queue
type Reply struct {
	Kind    ReplyKind       `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Payload is the structured value handed to data callbacks
type Payload json.RawMessage

// Decode unmarshals the payload into v
func (p Payload) Decode(v interface{}) error {
	if len(p) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(p, v)
}

// String returns the raw JSON text
func (p Payload) String() string {
	return string(p)
}

// MarshalJSON keeps the payload verbatim when re-encoded
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// DecodeReply parses a reply body. messageType is the AMQP Type property
// of the delivery; it is used as the discriminator when the envelope has
// none, and an empty body typed "success" is a transport-level
// end-of-stream marker. Any failure is returned as a decoding *Error.
func DecodeReply(body []byte, messageType string) (*Reply, error) {
	fallback := ReplyKind(messageType)

	if len(bytes.TrimSpace(body)) == 0 {
		if fallback == ReplySuccess {
			return &Reply{Kind: ReplySuccess}, nil
		}
		return nil, NewDecodingError(fmt.Errorf("empty reply body"))
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, NewDecodingError(err)
	}

	if reply.Kind == "" {
		reply.Kind = fallback
	}
	if !reply.Kind.Valid() {
		return nil, NewDecodingError(fmt.Errorf("unknown reply type %q", reply.Kind))
	}
	return &reply, nil
}

// EncodeReply is the responder-side counterpart of DecodeReply
func EncodeReply(reply Reply) ([]byte, error) {
	if !reply.Kind.Valid() {
		return nil, fmt.Errorf("unknown reply type %q", reply.Kind)
	}
	return json.Marshal(reply)
}

// DataReply builds a data envelope around v
func DataReply(v interface{}) (Reply, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: ReplyData, Data: data}, nil
}

// ErrorReply builds an application error envelope
func ErrorReply(code int, message string) Reply {
	return Reply{Kind: ReplyError, Code: code, Message: message}
}

// SuccessReply builds the completion marker
func SuccessReply() Reply {
	return Reply{Kind: ReplySuccess}
}
