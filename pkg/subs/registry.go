// Package subs routes server-pushed notifications to handlers, keyed by the
// server-issued subscription id. The id is the routing key, never the
// notification method name, which several subscriptions can share.
package subs

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

// Handler receives the result payload of one push notification. Handlers
// for a given subscription are invoked sequentially in server-emission
// order, from the transport's read loop; a slow handler stalls the loop,
// so hand off to a channel for heavy work.
type Handler func(result json.RawMessage)

type entry struct {
	handler Handler
}

// Registry tracks active subscriptions. It has no opinion on subscribe or
// unsubscribe method semantics; the client layer issues those calls and
// feeds the resulting ids here.
type Registry struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[jsonrpc.SubscriptionID]*entry
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		subs:   make(map[jsonrpc.SubscriptionID]*entry),
	}
}

// Register activates a subscription and returns the capability that
// deactivates it. Once cancelled, the handler fires no further callbacks.
// A duplicate id replaces the previous handler (servers issue unique ids;
// a collision means the old registration is stale).
func (r *Registry) Register(id jsonrpc.SubscriptionID, handler Handler) (cancel func()) {
	e := &entry{handler: handler}

	r.mu.Lock()
	if _, exists := r.subs[id]; exists {
		r.logger.Warn("subs: replacing handler for duplicate subscription id", "subscription", id)
	}
	r.subs[id] = e
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		// Only remove if this registration still owns the slot.
		if cur, ok := r.subs[id]; ok && cur == e {
			delete(r.subs, id)
		}
		r.mu.Unlock()
	}
}

// Dispatch invokes the handler for id, reporting whether one was active.
// Unknown or deactivated ids are dropped silently: the server may deliver a
// final event after a client-side unsubscribe, and that is not an error.
func (r *Registry) Dispatch(id jsonrpc.SubscriptionID, payload json.RawMessage) bool {
	r.mu.Lock()
	e, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.handler(payload)
	return true
}

// Clear deactivates every subscription. Called on transport teardown; it
// does not re-subscribe on reconnect. Subscription parameters and replay
// semantics are caller-specific, so re-subscription is the caller's job.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.subs)
	r.subs = make(map[jsonrpc.SubscriptionID]*entry)
	r.mu.Unlock()
	if n > 0 {
		r.logger.Debug("subs: cleared subscriptions", "count", n)
	}
}

// Len reports the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
