package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-noderpc/pkg/client"
	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
	"github.com/lightforgemedia/go-noderpc/pkg/testutil"
)

type head struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}

func TestHTTPCall(t *testing.T) {
	ns := testutil.NewNodeServer(t)
	ns.Handle("chain.getHead", func(json.RawMessage) (interface{}, error) {
		return head{Height: 10, Hash: "0xabc"}, nil
	})

	c := client.NewHTTP(ns.HTTPURL)
	raw, err := c.Call(context.Background(), "chain.getHead", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"height":10,"hash":"0xabc"}`, string(raw))
}

func TestHTTPCallRPCError(t *testing.T) {
	ns := testutil.NewNodeServer(t)
	ns.Handle("chain.getBlock", func(json.RawMessage) (interface{}, error) {
		return nil, jsonrpc.NewError(jsonrpc.CodeNotFound, "block not found", nil)
	})

	c := client.NewHTTP(ns.HTTPURL)
	_, err := c.Call(context.Background(), "chain.getBlock", []interface{}{"0xdead"})
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeNotFound, rpcErr.Code)
	assert.Equal(t, "block not found", rpcErr.Message)

	// An RPC error is a server answer, not a transport failure.
	assert.False(t, errors.Is(err, jsonrpc.ErrConnection))
}

func TestHTTPCallMethodNotFound(t *testing.T) {
	ns := testutil.NewNodeServer(t)

	c := client.NewHTTP(ns.HTTPURL)
	_, err := c.Call(context.Background(), "chain.noSuchMethod", nil)
	require.Error(t, err)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rpcErr.Code)
}

func TestHTTPCallTransportFailure(t *testing.T) {
	c := client.NewHTTP("http://127.0.0.1:1") // nothing listens here
	_, err := c.Call(context.Background(), "chain.getHead", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConnection))
}

func TestHTTPCallNonJSONErrorPage(t *testing.T) {
	// A proxy answering with an HTML error page is a transport failure,
	// not a protocol one: there is no envelope to interpret.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>502 Bad Gateway</html>", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := client.NewHTTP(srv.URL)
	_, err := c.Call(context.Background(), "chain.getHead", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConnection))
}

func TestHTTPCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	c := client.NewHTTP(srv.URL, client.WithHTTPCallTimeout(100*time.Millisecond))
	_, err := c.Call(context.Background(), "chain.getHead", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrTimeout))
}

func TestHTTPRequestDecodesResult(t *testing.T) {
	ns := testutil.NewNodeServer(t)
	ns.Handle("chain.getHead", func(json.RawMessage) (interface{}, error) {
		return head{Height: 42, Hash: "0xfeed"}, nil
	})

	c := client.NewHTTP(ns.HTTPURL)
	got, err := client.Request[head](context.Background(), c, "chain.getHead", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Height)
	assert.Equal(t, "0xfeed", got.Hash)
}

func TestHTTPRequestNullResult(t *testing.T) {
	ns := testutil.NewNodeServer(t)
	ns.Handle("chain.getPending", func(json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	c := client.NewHTTP(ns.HTTPURL)
	got, err := client.Request[head](context.Background(), c, "chain.getPending", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.Height)
}

func TestHTTPRequestsAreIndependent(t *testing.T) {
	ns := testutil.NewNodeServer(t)
	calls := 0
	ns.Handle("chain.getHead", func(json.RawMessage) (interface{}, error) {
		calls++
		return head{Height: int64(calls)}, nil
	})

	c := client.NewHTTP(ns.HTTPURL)
	for i := 1; i <= 3; i++ {
		got, err := client.Request[head](context.Background(), c, "chain.getHead", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.Height)
	}
}
