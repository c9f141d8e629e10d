// Package envelope defines the JSON bodies exchanged with remote peers.
//
// A request carries the method, its arguments, the correlation id and the
// routing key replies must be sent to:
//
//	{"method":"createStream","args":["room1"],"corrID":42,"replyTo":"gateway.replies"}
//
// A reply only needs the correlation field; everything else is handed to the
// waiting caller untouched.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"

	errspkg "github.com/drblury/replyflow/internal/runtime/errors"
	idspkg "github.com/drblury/replyflow/internal/runtime/ids"
)

const (
	// FieldCorrelationID is the key written on every envelope.
	FieldCorrelationID = "corrID"
	// FieldCorrelationIDAlt is accepted on inbound replies.
	FieldCorrelationIDAlt = "corrId"
)

// Outbound is a request envelope. RoutingKey selects the destination on the
// broker and is not part of the body.
type Outbound struct {
	RoutingKey    string               `json:"-"`
	Method        string               `json:"method"`
	Args          []any                `json:"args"`
	CorrelationID idspkg.CorrelationID `json:"corrID"`
	ReplyTo       string               `json:"replyTo"`
}

// Body renders the JSON body sent to the broker. Nil args are sent as [].
func (o Outbound) Body() ([]byte, error) {
	if o.Args == nil {
		o.Args = []any{}
	}
	body, err := Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for %s: %w", o.Method, err)
	}
	return body, nil
}

type outboundWire struct {
	Method        string                `json:"method"`
	Args          []json.RawMessage     `json:"args"`
	CorrelationID *idspkg.CorrelationID `json:"corrID"`
	ReplyTo       string                `json:"replyTo"`
}

// Request is a decoded Outbound as seen by the remote peer. Args stay raw so
// handlers decode them into their own types.
type Request struct {
	Method        string
	Args          []json.RawMessage
	CorrelationID idspkg.CorrelationID
	ReplyTo       string
}

// DecodeRequest parses a request body. The method, correlation id and
// reply-to key are mandatory.
func DecodeRequest(body []byte) (Request, error) {
	var wire outboundWire
	if err := Unmarshal(body, &wire); err != nil {
		return Request{}, fmt.Errorf("%w: %v", errspkg.ErrMalformedMessage, err)
	}
	if wire.Method == "" || wire.ReplyTo == "" {
		return Request{}, fmt.Errorf("%w: method and replyTo are required", errspkg.ErrMalformedMessage)
	}
	if wire.CorrelationID == nil {
		id, err := CorrelationOf(body)
		if err != nil {
			return Request{}, err
		}
		wire.CorrelationID = &id
	}
	return Request{
		Method:        wire.Method,
		Args:          wire.Args,
		CorrelationID: *wire.CorrelationID,
		ReplyTo:       wire.ReplyTo,
	}, nil
}

// Reply is what a peer sends back. Callers receive the raw body, so Reply is
// only a convenience for producing and inspecting replies.
type Reply struct {
	CorrelationID idspkg.CorrelationID `json:"corrID"`
	Result        any                  `json:"result,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Body renders the reply JSON.
func (r Reply) Body() ([]byte, error) {
	return Marshal(r)
}

// CorrelationOf extracts the correlation id from an inbound body without
// decoding the rest of it. A body that is not a JSON object, lacks both
// correlation keys or holds a non-integer value is malformed.
func CorrelationOf(body []byte) (idspkg.CorrelationID, error) {
	root, err := sonic.Get(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errspkg.ErrMalformedMessage, err)
	}
	if root.Type() != ast.V_OBJECT {
		return 0, fmt.Errorf("%w: body is not an object", errspkg.ErrMalformedMessage)
	}

	for _, key := range []string{FieldCorrelationID, FieldCorrelationIDAlt} {
		node := root.Get(key)
		if node == nil || !node.Exists() {
			continue
		}
		if node.Type() != ast.V_NUMBER {
			return 0, fmt.Errorf("%w: %s is not a number", errspkg.ErrMalformedMessage, key)
		}
		id, err := node.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", errspkg.ErrMalformedMessage, key, err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("%w: missing %s", errspkg.ErrMalformedMessage, FieldCorrelationID)
}
