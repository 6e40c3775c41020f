// Package pending tracks in-flight JSON-RPC requests: it allocates
// correlation ids, hands the caller a future per request, and completes the
// future when the matching response arrives (or the request is cancelled,
// times out, or the transport is torn down).
package pending

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

// Correlator owns the pending-request set. Ids are strictly increasing for
// the lifetime of the instance and are never reused while outstanding; the
// int64 space outlives any practical connection.
type Correlator struct {
	logger *slog.Logger

	mu    sync.Mutex
	next  int64
	calls map[int64]*Call
}

// NewCorrelator creates an empty correlator. A nil logger falls back to
// slog.Default().
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger: logger,
		calls:  make(map[int64]*Call),
	}
}

// Issue allocates the next id and registers a pending call. A zero deadline
// disables the local timeout for this call.
func (d *Correlator) Issue(method string, deadline time.Time) *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	call := newCall(d.next, method, deadline)
	d.calls[call.id] = call
	return call
}

// Resolve completes the pending call for id with a result. An unknown id
// (already completed, timed out, or never issued) is logged and dropped;
// a stray response never crashes the client.
func (d *Correlator) Resolve(id int64, result json.RawMessage) bool {
	call := d.take(id)
	if call == nil {
		d.logger.Debug("correlator: dropping response with no pending call", "id", id)
		return false
	}
	return call.complete(result, nil)
}

// Reject completes the pending call for id with an error. Unknown ids are
// dropped like in Resolve.
func (d *Correlator) Reject(id int64, err error) bool {
	call := d.take(id)
	if call == nil {
		d.logger.Debug("correlator: dropping error for unknown call", "id", id)
		return false
	}
	return call.complete(nil, err)
}

// Cancel rejects the call with ErrCancelled and removes it. Nothing is sent
// upstream: the server may still execute and answer the request, and that
// late response is dropped by Resolve.
func (d *Correlator) Cancel(id int64) bool {
	call := d.take(id)
	if call == nil {
		return false
	}
	return call.complete(nil, fmt.Errorf("%w: call %d (%s)", jsonrpc.ErrCancelled, call.id, call.method))
}

// FailAll rejects every pending call and clears the set. Used on transport
// teardown and on reconnect give-up.
func (d *Correlator) FailAll(err error) {
	d.mu.Lock()
	calls := d.calls
	d.calls = make(map[int64]*Call)
	d.mu.Unlock()

	for _, call := range calls {
		call.complete(nil, err)
	}
	if len(calls) > 0 {
		d.logger.Debug("correlator: failed all pending calls", "count", len(calls), "err", err)
	}
}

// Expire rejects every call whose deadline has passed and reports how many
// were reaped. It runs independent of transport state, so calls held
// through a reconnect still terminate.
func (d *Correlator) Expire(now time.Time) int {
	d.mu.Lock()
	var expired []*Call
	for id, call := range d.calls {
		if call.expired(now) {
			expired = append(expired, call)
			delete(d.calls, id)
		}
	}
	d.mu.Unlock()

	for _, call := range expired {
		call.complete(nil, fmt.Errorf("%w: call %d (%s) exceeded deadline", jsonrpc.ErrTimeout, call.id, call.method))
	}
	return len(expired)
}

// Has reports whether the call for id is still pending.
func (d *Correlator) Has(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.calls[id]
	return ok
}

// Len reports the number of in-flight calls.
func (d *Correlator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// take removes and returns the call for id, or nil.
func (d *Correlator) take(id int64) *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.calls[id]
	if !ok {
		return nil
	}
	delete(d.calls, id)
	return call
}
