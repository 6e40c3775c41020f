// noderpc.go
package noderpc

import (
	"context"

	"github.com/lightforgemedia/go-noderpc/pkg/client"
	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
	"github.com/lightforgemedia/go-noderpc/pkg/subs"
)

// Re-export core types
type (
	Client         = client.Client
	HTTPClient     = client.HTTPClient
	Caller         = client.Caller
	Option         = client.Option
	Options        = client.Options
	HTTPOption     = client.HTTPOption
	State          = client.State
	Subscription   = client.Subscription
	Handler        = subs.Handler
	RPCError       = jsonrpc.Error
	SubscriptionID = jsonrpc.SubscriptionID
)

// Re-export error sentinels
var (
	ErrConnection = jsonrpc.ErrConnection
	ErrProtocol   = jsonrpc.ErrProtocol
	ErrTimeout    = jsonrpc.ErrTimeout
	ErrCancelled  = jsonrpc.ErrCancelled
)

// Re-export connection lifecycle states
const (
	StateDisconnected = client.StateDisconnected
	StateConnecting   = client.StateConnecting
	StateOpen         = client.StateOpen
	StateClosing      = client.StateClosing
	StateReconnecting = client.StateReconnecting
)

// Dial opens a persistent WebSocket connection to a node endpoint.
func Dial(ctx context.Context, urlStr string, opts ...client.Option) (*client.Client, error) {
	return client.Dial(ctx, urlStr, opts...)
}

// DefaultOptions returns the library defaults for DialWithOptions.
func DefaultOptions() client.Options {
	return client.DefaultOptions()
}

// DialWithOptions opens a connection configured by an Options struct.
func DialWithOptions(ctx context.Context, urlStr string, opts client.Options) (*client.Client, error) {
	return client.DialWithOptions(ctx, urlStr, opts)
}

// NewHTTP creates a one-shot HTTP POST transport for a node endpoint.
func NewHTTP(endpoint string, opts ...client.HTTPOption) *client.HTTPClient {
	return client.NewHTTP(endpoint, opts...)
}
