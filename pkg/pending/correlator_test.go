package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

func TestIssueAssignsIncreasingIDs(t *testing.T) {
	d := NewCorrelator(nil)

	var last int64
	for i := 0; i < 100; i++ {
		call := d.Issue("chain.getHead", time.Time{})
		assert.Greater(t, call.ID(), last)
		last = call.ID()
	}
	assert.Equal(t, 100, d.Len())
}

func TestResolveCompletesMatchingCall(t *testing.T) {
	d := NewCorrelator(nil)
	call := d.Issue("chain.getHead", time.Time{})

	ok := d.Resolve(call.ID(), json.RawMessage(`{"height":10}`))
	require.True(t, ok)

	result, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"height":10}`, string(result))
	assert.Equal(t, 0, d.Len())
}

func TestResolveUnknownIDIsNoop(t *testing.T) {
	d := NewCorrelator(nil)
	assert.False(t, d.Resolve(999, json.RawMessage(`1`)))
	assert.False(t, d.Reject(999, errors.New("boom")))
}

func TestConcurrentCallsNoCrossTalk(t *testing.T) {
	d := NewCorrelator(nil)
	const n = 64

	calls := make([]*Call, n)
	for i := range calls {
		calls[i] = d.Issue("chain.getBlock", time.Time{})
	}

	// Resolve from several goroutines, each call with a payload derived
	// from its own id.
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(c *Call) {
			defer wg.Done()
			d.Resolve(c.ID(), json.RawMessage(fmt.Sprintf(`{"id":%d}`, c.ID())))
		}(call)
	}
	wg.Wait()

	for _, call := range calls {
		result, err := call.Wait(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"id":%d}`, call.ID()), string(result))
	}
	assert.Equal(t, 0, d.Len())
}

func TestCancelRejectsWithCancelledAndDropsLateResponse(t *testing.T) {
	d := NewCorrelator(nil)
	call := d.Issue("tx.send", time.Time{})

	require.True(t, d.Cancel(call.ID()))

	_, err := call.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrCancelled))

	// A response arriving after the cancel is dropped without error and
	// does not change the observed outcome.
	assert.False(t, d.Resolve(call.ID(), json.RawMessage(`"late"`)))
	_, err = call.Wait(context.Background())
	assert.True(t, errors.Is(err, jsonrpc.ErrCancelled))
}

func TestFailAllRejectsEverything(t *testing.T) {
	d := NewCorrelator(nil)
	a := d.Issue("a", time.Time{})
	b := d.Issue("b", time.Time{})

	cause := fmt.Errorf("%w: socket closed", jsonrpc.ErrConnection)
	d.FailAll(cause)

	for _, call := range []*Call{a, b} {
		_, err := call.Wait(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, jsonrpc.ErrConnection))
	}
	assert.Equal(t, 0, d.Len())
}

func TestExpireReapsOnlyPastDeadline(t *testing.T) {
	d := NewCorrelator(nil)
	now := time.Now()

	stale := d.Issue("slow", now.Add(-time.Second))
	fresh := d.Issue("fast", now.Add(time.Hour))
	eternal := d.Issue("none", time.Time{})

	assert.Equal(t, 1, d.Expire(now))

	_, err := stale.Wait(context.Background())
	assert.True(t, errors.Is(err, jsonrpc.ErrTimeout))

	select {
	case <-fresh.Done():
		t.Fatal("fresh call must stay pending")
	case <-eternal.Done():
		t.Fatal("deadline-free call must stay pending")
	default:
	}
	assert.Equal(t, 2, d.Len())
}

func TestWaitRespectsContext(t *testing.T) {
	d := NewCorrelator(nil)
	call := d.Issue("chain.getHead", time.Time{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := call.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The call itself is still pending; only the waiter gave up.
	assert.Equal(t, 1, d.Len())
}
