package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes a caller can branch on with
// errors.Is. RPC-level errors are carried by *Error instead and extracted
// with errors.As.
var (
	// ErrConnection covers transport-level failures: dial refused, socket
	// closed unexpectedly, reconnect attempts exhausted.
	ErrConnection = errors.New("noderpc: connection error")
	// ErrProtocol covers malformed envelopes and responses that match
	// neither the response nor the notification shape.
	ErrProtocol = errors.New("noderpc: protocol error")
	// ErrTimeout is a locally enforced deadline, not a server error.
	ErrTimeout = errors.New("noderpc: request timed out")
	// ErrCancelled is returned for calls cancelled by the caller. No cancel
	// frame is sent upstream; the server may still execute the request.
	ErrCancelled = errors.New("noderpc: request cancelled")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server-defined codes in the reserved -32000..-32099 range. These are the
// stable codes a node is expected to emit for transport-adjacent conditions.
const (
	CodeServerError = -32000
	CodeRateLimited = -32001
	CodeUnavailable = -32002
	CodeNotFound    = -32004
)

// Error is a well-formed JSON-RPC error object returned by the server.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with an optional data payload. A data value that
// fails to marshal is silently omitted; the code and message always survive.
func NewError(code int, message string, data interface{}) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}
