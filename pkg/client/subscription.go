package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
	"github.com/lightforgemedia/go-noderpc/pkg/subs"
)

// Subscription is a live server-push stream. Events are delivered to the
// handler passed to Subscribe until Stop or Unsubscribe is called, the
// subscription registry is cleared on give-up, or the client is closed.
type Subscription struct {
	id     jsonrpc.SubscriptionID
	client *Client
	cancel func()
}

// ID returns the server-issued subscription id.
func (s *Subscription) ID() jsonrpc.SubscriptionID { return s.id }

// Stop deactivates local delivery without telling the server. Further
// pushes for the id are dropped. Use Unsubscribe to also stop the server
// from producing them.
func (s *Subscription) Stop() { s.cancel() }

// Unsubscribe stops local delivery and issues the server-side unsubscribe
// call. Local delivery stops first so a push racing the unsubscribe never
// reaches a handler the caller considers dead.
func (s *Subscription) Unsubscribe(ctx context.Context, method string) error {
	s.cancel()
	_, err := s.client.Call(ctx, method, []interface{}{string(s.id)})
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.id, err)
	}
	return nil
}

// subscribeResult accepts both server conventions for a subscribe response:
// a bare subscription id and an object wrapping it.
type subscribeResult struct {
	Subscription jsonrpc.SubscriptionID `json:"subscription"`
}

func parseSubscribeResult(raw json.RawMessage) (jsonrpc.SubscriptionID, error) {
	var id jsonrpc.SubscriptionID
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}
	var wrapped subscribeResult
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Subscription != "" {
		return wrapped.Subscription, nil
	}
	return "", fmt.Errorf("%w: subscribe result %q carries no subscription id", jsonrpc.ErrProtocol, raw)
}

// Subscribe issues a subscribe call and routes every push for the returned
// server-issued id to handler. Two subscriptions established through the
// same notification method stay independent: routing is by id only.
//
// The handler runs on the connection's read loop; see subs.Handler for the
// ordering and blocking contract.
func (c *Client) Subscribe(ctx context.Context, method string, params interface{}, handler subs.Handler) (*Subscription, error) {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	id, err := parseSubscribeResult(raw)
	if err != nil {
		return nil, err
	}

	cancel := c.subs.Register(id, handler)
	c.cfg.logger.Debug("client: subscription active", "method", method, "subscription", id)
	return &Subscription{id: id, client: c, cancel: cancel}, nil
}
