package subs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

func TestDispatchRoutesBySubscriptionID(t *testing.T) {
	r := NewRegistry(nil)

	// Two subscriptions for the same notification method must each receive
	// only their own pushes; routing is by id, never by method name.
	var gotA, gotB []string
	cancelA := r.Register("0xA1", func(result json.RawMessage) {
		gotA = append(gotA, string(result))
	})
	defer cancelA()
	cancelB := r.Register("0xA2", func(result json.RawMessage) {
		gotB = append(gotB, string(result))
	})
	defer cancelB()

	assert.True(t, r.Dispatch("0xA1", json.RawMessage(`{"height":11}`)))
	assert.True(t, r.Dispatch("0xA2", json.RawMessage(`{"height":12}`)))
	assert.True(t, r.Dispatch("0xA1", json.RawMessage(`{"height":13}`)))

	assert.Equal(t, []string{`{"height":11}`, `{"height":13}`}, gotA)
	assert.Equal(t, []string{`{"height":12}`}, gotB)
}

func TestDispatchUnknownIDIsDropped(t *testing.T) {
	r := NewRegistry(nil)
	assert.False(t, r.Dispatch("0xFF", json.RawMessage(`1`)))
}

func TestCancelStopsCallbacks(t *testing.T) {
	r := NewRegistry(nil)

	calls := 0
	cancel := r.Register("0xA1", func(json.RawMessage) { calls++ })

	require.True(t, r.Dispatch("0xA1", json.RawMessage(`1`)))
	cancel()
	assert.False(t, r.Dispatch("0xA1", json.RawMessage(`2`)))
	assert.Equal(t, 1, calls)

	// Cancelling twice is harmless.
	cancel()
}

func TestStaleCancelDoesNotRemoveReplacement(t *testing.T) {
	r := NewRegistry(nil)

	oldCancel := r.Register("0xA1", func(json.RawMessage) {})

	replaced := 0
	r.Register("0xA1", func(json.RawMessage) { replaced++ })

	// The stale capability must not tear down the replacement handler.
	oldCancel()
	assert.True(t, r.Dispatch("0xA1", json.RawMessage(`1`)))
	assert.Equal(t, 1, replaced)
}

func TestClearDeactivatesAll(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("0xA1", func(json.RawMessage) { t.Fatal("must not fire after Clear") })
	r.Register("0xA2", func(json.RawMessage) { t.Fatal("must not fire after Clear") })
	require.Equal(t, 2, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Dispatch("0xA1", json.RawMessage(`1`)))
	assert.False(t, r.Dispatch("0xA2", json.RawMessage(`1`)))
}

func TestOrderPreservedPerSubscription(t *testing.T) {
	r := NewRegistry(nil)

	var seen []jsonrpc.SubscriptionID
	r.Register("0xA1", func(result json.RawMessage) {
		seen = append(seen, jsonrpc.SubscriptionID(result))
	})

	for _, payload := range []string{`1`, `2`, `3`, `4`} {
		r.Dispatch("0xA1", json.RawMessage(payload))
	}
	assert.Equal(t, []jsonrpc.SubscriptionID{"1", "2", "3", "4"}, seen)
}
