package pending

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Call is the future half of an in-flight request. It is completed exactly
// once, by a matching response, a local cancel, the timeout reaper, or
// transport teardown, and every waiter observes the same outcome.
type Call struct {
	id        int64
	method    string
	createdAt time.Time
	deadline  time.Time // zero means no local deadline

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id int64, method string, deadline time.Time) *Call {
	return &Call{
		id:        id,
		method:    method,
		createdAt: time.Now(),
		deadline:  deadline,
		done:      make(chan struct{}),
	}
}

// ID returns the correlation id stamped on the wire request.
func (c *Call) ID() int64 { return c.id }

// Method returns the RPC method the call was issued for.
func (c *Call) Method() string { return c.method }

// Done is closed when the call has completed.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result returns the outcome. Valid only after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	return c.result, c.err
}

// Wait blocks until the call completes or ctx is done. A ctx error is
// returned as-is; the caller maps it onto the timeout/cancel taxonomy.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// complete reports whether this invocation won the completion race.
func (c *Call) complete(result json.RawMessage, err error) bool {
	won := false
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
		won = true
	})
	return won
}

func (c *Call) expired(now time.Time) bool {
	return !c.deadline.IsZero() && now.After(c.deadline)
}
