// Package jsonrpc implements the JSON-RPC 2.0 wire envelopes used between a
// client and a blockchain node, over HTTP POST or WebSocket text frames.
// The codec is pure and stateless; transports own all connection state.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version stamped on every envelope.
const Version = "2.0"

// Request is an outbound call envelope. ID is nil for notifications sent by
// a client, which this library does not emit; every request it builds
// carries a correlation id.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request envelope, marshalling params once up front so
// a bad params value fails at issue time rather than inside a write pump.
// A nil params is omitted from the wire form.
func NewRequest(id int64, method string, params interface{}) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %q: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// Encode renders the request as a wire frame.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Response is a correlated reply. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse builds a success response envelope (used by test servers).
func NewResponse(id int64, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result for id %d: %w", id, err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response envelope.
func NewErrorResponse(id int64, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: rpcErr}
}

// SubscriptionID is the server-issued routing key for push notifications.
// Nodes disagree on the JSON type: some issue hex strings ("0xA1"), some
// plain integers. Both decode to the canonical string form.
type SubscriptionID string

func (s *SubscriptionID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SubscriptionID(str)
		return nil
	}
	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*s = SubscriptionID(strconv.FormatInt(num, 10))
		return nil
	}
	return fmt.Errorf("subscription id %s is neither string nor number", data)
}

// SubscriptionParams is the params object of a subscription push. The
// subscription id is the routing key; the outer method name is only a
// decode hint and must never be used for routing (two subscriptions on the
// same method receive distinct ids).
type SubscriptionParams struct {
	Subscription SubscriptionID  `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Notification is a server push: no id, method set, params carrying the
// subscription envelope.
type Notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  SubscriptionParams `json:"params"`
}

// NewNotification builds a push envelope (used by test servers).
func NewNotification(method string, sub SubscriptionID, result interface{}) (*Notification, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal push result for %q: %w", method, err)
	}
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  SubscriptionParams{Subscription: sub, Result: raw},
	}, nil
}

// Message is the decoded form of an inbound frame: exactly one of the two
// fields is non-nil.
type Message struct {
	Response     *Response
	Notification *Notification
}

// DecodeMessage classifies an inbound frame as a response (id present,
// result xor error) or a notification (id absent, method present). Anything
// else is an ErrProtocol-wrapped decode error; the transport logs and drops
// such frames without terminating the connection.
func DecodeMessage(data []byte) (*Message, error) {
	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *int64          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON frame: %v", ErrProtocol, err)
	}

	switch {
	case env.ID != nil:
		if (env.Result == nil) == (env.Error == nil) {
			return nil, fmt.Errorf("%w: response id %d must carry exactly one of result or error", ErrProtocol, *env.ID)
		}
		return &Message{Response: &Response{
			JSONRPC: env.JSONRPC,
			ID:      *env.ID,
			Result:  env.Result,
			Error:   env.Error,
		}}, nil

	case env.Method != "":
		var params SubscriptionParams
		if env.Params != nil {
			if err := json.Unmarshal(env.Params, &params); err != nil {
				return nil, fmt.Errorf("%w: notification %q params: %v", ErrProtocol, env.Method, err)
			}
		}
		return &Message{Notification: &Notification{
			JSONRPC: env.JSONRPC,
			Method:  env.Method,
			Params:  params,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: frame is neither response nor notification", ErrProtocol)
	}
}
