package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

const (
	defaultHTTPCallTimeout = 30 * time.Second
	maxHTTPResponseBytes   = 8 << 20 // 8MB, matches the node's response cap
)

// seq hands out strictly increasing correlation ids for one-shot calls,
// where there is no correlator tracking an inbound stream.
type seq struct {
	n atomic.Int64
}

func (s *seq) next() int64 { return s.n.Add(1) }

// Caller is the transport-agnostic call surface shared by the HTTP and
// WebSocket clients. Request decodes through it for either transport.
type Caller interface {
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
}

// HTTPClient is the one-shot transport: each call is a single POST with no
// connection state retained between calls. Safe for concurrent use.
type HTTPClient struct {
	endpoint    string
	httpClient  *http.Client
	logger      *slog.Logger
	callTimeout time.Duration

	seq seq
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom *http.Client (proxies, TLS config, pooling).
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPCallTimeout sets the per-call timeout applied when the caller's
// context has no earlier deadline.
func WithHTTPCallTimeout(timeout time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// NewHTTP creates an HTTP transport for the given endpoint URL.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		httpClient:  http.DefaultClient,
		logger:      slog.Default(),
		callTimeout: defaultHTTPCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call issues one JSON-RPC request over HTTP POST and returns the raw
// result. Transport failures (refused, non-2xx without a JSON-RPC body)
// come back wrapped in jsonrpc.ErrConnection, the potentially retryable
// class, while a well-formed RPC error object is returned as *jsonrpc.Error.
func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.seq.next()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := req.Encode()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", jsonrpc.ErrConnection, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %v", jsonrpc.ErrTimeout, method, c.callTimeout)
		}
		return nil, fmt.Errorf("%w: POST %s: %v", jsonrpc.ErrConnection, c.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", jsonrpc.ErrConnection, err)
	}

	msg, decErr := jsonrpc.DecodeMessage(data)
	if decErr != nil {
		// Some nodes return RPC errors with a non-2xx status and a valid
		// envelope; only a status with no parseable envelope is a
		// transport-level failure.
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: %s returned %s", jsonrpc.ErrConnection, c.endpoint, resp.Status)
		}
		return nil, decErr
	}
	if msg.Response == nil {
		return nil, fmt.Errorf("%w: expected a response envelope, got a notification", jsonrpc.ErrProtocol)
	}
	if msg.Response.ID != id {
		return nil, fmt.Errorf("%w: response id %d does not match request id %d", jsonrpc.ErrProtocol, msg.Response.ID, id)
	}
	if msg.Response.Error != nil {
		return nil, msg.Response.Error
	}
	return msg.Response.Result, nil
}

// Request calls method through any transport and unmarshals the result into
// T. A null result yields a pointer to T's zero value.
func Request[T any](ctx context.Context, c Caller, method string, params interface{}) (*T, error) {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if raw == nil || string(raw) == "null" {
		return new(T), nil
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal result into %T: %v", jsonrpc.ErrProtocol, out, err)
	}
	return out, nil
}
