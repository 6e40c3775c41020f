package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestEncode(t *testing.T) {
	t.Run("Object params", func(t *testing.T) {
		req, err := NewRequest(7, "chain.getBlock", map[string]interface{}{"height": 42})
		require.NoError(t, err)

		data, err := req.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"chain.getBlock","params":{"height":42}}`, string(data))
	})

	t.Run("Nil params omitted", func(t *testing.T) {
		req, err := NewRequest(1, "chain.getHead", nil)
		require.NoError(t, err)

		data, err := req.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"chain.getHead"}`, string(data))
	})

	t.Run("Unmarshalable params fail at issue time", func(t *testing.T) {
		_, err := NewRequest(2, "chain.getHead", func() {})
		require.Error(t, err)
	})
}

func TestDecodeMessage(t *testing.T) {
	t.Run("Success response", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{"height":10}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Response)
		assert.Nil(t, msg.Notification)
		assert.Equal(t, int64(1), msg.Response.ID)
		assert.JSONEq(t, `{"height":10}`, string(msg.Response.Result))
	})

	t.Run("Error response", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"Method not found"}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Response)
		require.NotNil(t, msg.Response.Error)
		assert.Equal(t, CodeMethodNotFound, msg.Response.Error.Code)
	})

	t.Run("Null result is still a response", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":4,"result":null}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Response)
		assert.Equal(t, "null", string(msg.Response.Result))
	})

	t.Run("Subscription push", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"newHeads","params":{"subscription":"0xA1","result":{"height":11}}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Notification)
		assert.Nil(t, msg.Response)
		assert.Equal(t, "newHeads", msg.Notification.Method)
		assert.Equal(t, SubscriptionID("0xA1"), msg.Notification.Params.Subscription)
		assert.JSONEq(t, `{"height":11}`, string(msg.Notification.Params.Result))
	})

	t.Run("Numeric subscription id", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","method":"newHeads","params":{"subscription":7,"result":1}}`))
		require.NoError(t, err)
		require.NotNil(t, msg.Notification)
		assert.Equal(t, SubscriptionID("7"), msg.Notification.Params.Subscription)
	})

	t.Run("Malformed frames", func(t *testing.T) {
		cases := map[string]string{
			"invalid JSON":            `{"jsonrpc":`,
			"neither shape":           `{"jsonrpc":"2.0"}`,
			"response without result": `{"jsonrpc":"2.0","id":1}`,
			"result and error":        `{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":1,"message":"x"}}`,
			"bad notification params": `{"jsonrpc":"2.0","method":"newHeads","params":{"subscription":{}}}`,
		}
		for name, frame := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := DecodeMessage([]byte(frame))
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrProtocol), "expected ErrProtocol, got %v", err)
			})
		}
	})
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification("newHeads", "0xA1", map[string]int{"height": 11})
	require.NoError(t, err)

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"newHeads","params":{"subscription":"0xA1","result":{"height":11}}}`, string(data))
}

func TestErrorTaxonomy(t *testing.T) {
	rpcErr := NewError(CodeRateLimited, "slow down", map[string]int{"retryAfterMs": 500})
	assert.Equal(t, "rpc error -32001: slow down", rpcErr.Error())
	assert.JSONEq(t, `{"retryAfterMs":500}`, string(rpcErr.Data))

	var asErr *Error
	wrapped := fmt.Errorf("call failed: %w", rpcErr)
	require.True(t, errors.As(wrapped, &asErr))
	assert.Equal(t, CodeRateLimited, asErr.Code)
}
