// Package testutil provides an in-process mock node for transport tests:
// one method table served over both HTTP POST and WebSocket, with
// subscription fan-out for push tests.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/cskr/pubsub"
	"github.com/google/uuid"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
)

// MethodFunc handles one RPC method. Returning a *jsonrpc.Error produces an
// error response; any other error becomes a -32603 internal error.
type MethodFunc func(params json.RawMessage) (interface{}, error)

// NodeServer is a mock node serving a shared method table on two endpoints:
// POST /rpc and WebSocket /ws. Subscriptions are fanned out with a pubsub
// bus keyed by subscription id so tests can publish pushes after the
// subscribe call returns.
type NodeServer struct {
	T      *testing.T
	Server *httptest.Server

	HTTPURL string
	WSURL   string

	mu      sync.Mutex
	methods map[string]MethodFunc
	bus     *pubsub.PubSub
	conns   map[*websocket.Conn]context.CancelFunc

	// RejectNext makes the WS endpoint refuse the next N upgrade attempts,
	// for reconnect-backoff tests.
	rejectMu   sync.Mutex
	rejectNext int
}

// NewNodeServer starts a mock node. It shuts down via t.Cleanup.
func NewNodeServer(t *testing.T) *NodeServer {
	t.Helper()
	ns := &NodeServer{
		T:       t,
		methods: make(map[string]MethodFunc),
		bus:     pubsub.New(16),
		conns:   make(map[*websocket.Conn]context.CancelFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", ns.serveHTTP)
	mux.HandleFunc("/ws", ns.serveWS)
	ns.Server = httptest.NewServer(mux)

	ns.HTTPURL = ns.Server.URL + "/rpc"
	ns.WSURL = "ws" + ns.Server.URL[4:] + "/ws"

	t.Cleanup(func() {
		ns.CloseActiveConns(websocket.StatusNormalClosure)
		ns.bus.Shutdown()
		ns.Server.Close()
	})
	return ns
}

// Handle registers a method handler, replacing any previous one.
func (ns *NodeServer) Handle(method string, fn MethodFunc) {
	ns.mu.Lock()
	ns.methods[method] = fn
	ns.mu.Unlock()
}

// HandleSubscribe registers a subscribe method that issues a fresh
// subscription id per call and wires the id into the push bus. wrapped
// selects the {"subscription": id} response form over the bare id string.
// The last issued id is returned through lastID for the test to publish to.
func (ns *NodeServer) HandleSubscribe(method string, wrapped bool, lastID *string) {
	ns.Handle(method, func(json.RawMessage) (interface{}, error) {
		id := uuid.NewString()
		ns.mu.Lock()
		if lastID != nil {
			*lastID = id
		}
		ns.mu.Unlock()
		if wrapped {
			return map[string]string{"subscription": id}, nil
		}
		return id, nil
	})
}

// HandleUnsubscribe registers an unsubscribe method that acknowledges with
// true and records the ids it saw.
func (ns *NodeServer) HandleUnsubscribe(method string, seen *[]string) {
	ns.Handle(method, func(params json.RawMessage) (interface{}, error) {
		var args []string
		if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "expected [subscriptionId]", nil)
		}
		ns.mu.Lock()
		if seen != nil {
			*seen = append(*seen, args[0])
		}
		ns.mu.Unlock()
		return true, nil
	})
}

// Publish pushes one event to every live WS connection subscribed to subID,
// using notifyMethod as the envelope method.
func (ns *NodeServer) Publish(notifyMethod, subID string, result interface{}) {
	n, err := jsonrpc.NewNotification(notifyMethod, jsonrpc.SubscriptionID(subID), result)
	if err != nil {
		ns.T.Fatalf("Publish: %v", err)
	}
	frame, err := json.Marshal(n)
	if err != nil {
		ns.T.Fatalf("Publish: marshal notification: %v", err)
	}
	ns.bus.Pub(frame, "push")
}

// RejectNextDials makes the WS endpoint answer the next n upgrade attempts
// with 503, so reconnect loops have something to retry against.
func (ns *NodeServer) RejectNextDials(n int) {
	ns.rejectMu.Lock()
	ns.rejectNext = n
	ns.rejectMu.Unlock()
}

// CloseActiveConns drops every live WS connection with the given status,
// simulating an unexpected close when status is not NormalClosure.
func (ns *NodeServer) CloseActiveConns(status websocket.StatusCode) {
	ns.mu.Lock()
	conns := make(map[*websocket.Conn]context.CancelFunc, len(ns.conns))
	for c, cancel := range ns.conns {
		conns[c] = cancel
	}
	ns.conns = make(map[*websocket.Conn]context.CancelFunc)
	ns.mu.Unlock()

	for c, cancel := range conns {
		c.Close(status, "test server closing connection")
		cancel()
	}
}

// ActiveConns reports the number of live WS connections.
func (ns *NodeServer) ActiveConns() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.conns)
}

func (ns *NodeServer) lookup(method string) (MethodFunc, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	fn, ok := ns.methods[method]
	return fn, ok
}

// handleRequest runs one request through the method table and returns the
// encoded response frame, or nil for an unparseable frame.
func (ns *NodeServer) handleRequest(data []byte) []byte {
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil || req.ID == nil || req.Method == "" {
		ns.T.Logf("NodeServer: dropping malformed request: %s", data)
		return nil
	}
	id := *req.ID

	fn, ok := ns.lookup(req.Method)
	if !ok {
		return ns.encodeResponse(jsonrpc.NewErrorResponse(id,
			jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found: "+req.Method, nil)))
	}

	result, err := fn(req.Params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if e, ok := err.(*jsonrpc.Error); ok {
			rpcErr = e
		} else {
			rpcErr = jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
		}
		return ns.encodeResponse(jsonrpc.NewErrorResponse(id, rpcErr))
	}

	resp, err := jsonrpc.NewResponse(id, result)
	if err != nil {
		ns.T.Fatalf("NodeServer: marshal result for %s: %v", req.Method, err)
	}
	return ns.encodeResponse(resp)
}

func (ns *NodeServer) encodeResponse(resp *jsonrpc.Response) []byte {
	frame, err := json.Marshal(resp)
	if err != nil {
		ns.T.Fatalf("NodeServer: marshal response: %v", err)
	}
	return frame
}

func (ns *NodeServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	frame := ns.handleRequest(data)
	if frame == nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(frame)
}

func (ns *NodeServer) serveWS(w http.ResponseWriter, r *http.Request) {
	ns.rejectMu.Lock()
	if ns.rejectNext > 0 {
		ns.rejectNext--
		ns.rejectMu.Unlock()
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	ns.rejectMu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		ns.T.Logf("NodeServer: accept error: %v", err)
		return
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	ns.mu.Lock()
	ns.conns[conn] = connCancel
	ns.mu.Unlock()

	defer func() {
		connCancel()
		ns.mu.Lock()
		delete(ns.conns, conn)
		ns.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Forward bus pushes to this connection until it drops.
	pushCh := ns.bus.Sub("push")
	defer ns.bus.Unsub(pushCh, "push")
	go func() {
		for {
			select {
			case msg, ok := <-pushCh:
				if !ok {
					return
				}
				frame := msg.([]byte)
				if err := conn.Write(connCtx, websocket.MessageText, frame); err != nil {
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return
		}
		if frame := ns.handleRequest(data); frame != nil {
			if err := conn.Write(connCtx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}

// WaitFor polls condition until it is true or the timeout elapses.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Logf("WaitFor: condition %q not met within %v", description, timeout)
	return false
}
