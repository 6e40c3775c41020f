// Package client provides the two node-facing transports: a one-shot HTTP
// POST client and a persistent WebSocket client that multiplexes correlated
// calls and subscription pushes over a single connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/xid"

	"github.com/lightforgemedia/go-noderpc/pkg/jsonrpc"
	"github.com/lightforgemedia/go-noderpc/pkg/pending"
	"github.com/lightforgemedia/go-noderpc/pkg/subs"
)

const (
	defaultSendBuffer    = 64
	defaultCallTimeout   = 10 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultWriteTimeout  = 5 * time.Second
	defaultReaperTick    = 250 * time.Millisecond
	defaultBackoffBase   = 250 * time.Millisecond
	defaultBackoffMax    = 30 * time.Second
	defaultMaxReconnects = 10

	maxReadBytes = 8 << 20 // 8MB frames, matches the HTTP response cap
)

type clientConfig struct {
	logger        *slog.Logger
	dialOptions   *websocket.DialOptions
	callTimeout   time.Duration
	dialTimeout   time.Duration
	writeTimeout  time.Duration
	pingInterval  time.Duration // 0 disables client-initiated pings
	autoReconnect bool
	maxReconnects int // 0 means retry without an attempt cap
	backoffBase   time.Duration
	backoffMax    time.Duration
	sendBuffer    int
	onReconnect   func()
	parentCtx     context.Context
}

// outFrame is one queued request frame, tagged with its call id so the
// write pump can skip frames whose call already terminated.
type outFrame struct {
	id   int64
	data []byte
}

// Client is the WebSocket transport. One instance owns one logical
// connection; concurrent in-flight calls share it via id correlation.
type Client struct {
	cfg    clientConfig
	urlStr string

	// session identifies the current physical connection in logs; it is
	// regenerated on every successful dial.
	sessionMu sync.RWMutex
	session   string

	conn   *websocket.Conn
	connMu sync.RWMutex

	stateMu sync.RWMutex
	state   State

	send chan outFrame

	// carry holds a frame whose write failed, so the next connection's
	// write pump re-sends it ahead of the queue.
	carryMu sync.Mutex
	carry   *outFrame

	calls *pending.Correlator
	subs  *subs.Registry

	// Overall client lifetime context.
	clientCtx    context.Context
	clientCancel context.CancelFunc

	// Context for the current connection's pumps; cancelled and recreated
	// on reconnect.
	pumpCtx    context.Context
	pumpCancel context.CancelFunc
	pumpWg     sync.WaitGroup

	closedMu sync.Mutex
	isClosed bool

	reconnectingMu sync.Mutex
	isReconnecting bool
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.cfg.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) {
		c.cfg.dialOptions = opts
	}
}

// WithCallTimeout sets the local deadline applied to every call. The reaper
// rejects calls past this deadline with jsonrpc.ErrTimeout regardless of
// connection state. Zero disables local deadlines.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.cfg.callTimeout = timeout
	}
}

// WithDialTimeout bounds a single connection attempt.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.cfg.dialTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.cfg.writeTimeout = timeout
		}
	}
}

// WithPingInterval enables client-initiated keepalive pings. Zero or
// negative disables them; most nodes ping from their side.
func WithPingInterval(interval time.Duration) Option {
	return func(c *Client) {
		c.cfg.pingInterval = interval
	}
}

// WithAutoReconnect enables reconnection after an unexpected close.
// maxAttempts bounds the retry loop (0 retries without an attempt cap);
// base and max shape the exponential backoff between attempts. Both are
// configuration inputs so a browser-extension-style caller and a
// long-running service can tune liveness against resource use.
func WithAutoReconnect(maxAttempts int, base, max time.Duration) Option {
	return func(c *Client) {
		c.cfg.autoReconnect = true
		c.cfg.maxReconnects = maxAttempts
		if base > 0 {
			c.cfg.backoffBase = base
		}
		if max > 0 {
			c.cfg.backoffMax = max
		}
		if c.cfg.backoffMax < c.cfg.backoffBase {
			c.cfg.backoffMax = c.cfg.backoffBase
		}
	}
}

// WithOnReconnect registers a hook invoked after the client transitions
// Reconnecting -> Open. Subscriptions are not restored automatically
// (their parameters and replay semantics are caller-specific), so this is
// where the caller re-issues its subscribe calls.
func WithOnReconnect(fn func()) Option {
	return func(c *Client) {
		c.cfg.onReconnect = fn
	}
}

// WithContext sets a parent context for the client's lifetime. When the
// parent is cancelled the client shuts down all operations.
func WithContext(ctx context.Context) Option {
	return func(c *Client) {
		if ctx != nil {
			c.cfg.parentCtx = ctx
		}
	}
}

// WithSendBuffer sets the outbound queue depth. Requests issued while the
// connection is down wait here in FIFO order until the next Open.
func WithSendBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.cfg.sendBuffer = n
		}
	}
}

// Dial creates a Client and attempts the initial connection. With
// auto-reconnect enabled a failed first attempt still returns a usable
// client: calls queue until a connection is established or the retry
// budget runs out.
func Dial(ctx context.Context, urlStr string, opts ...Option) (*Client, error) {
	cli := &Client{
		cfg: clientConfig{
			logger:        slog.Default(),
			callTimeout:   defaultCallTimeout,
			dialTimeout:   defaultDialTimeout,
			writeTimeout:  defaultWriteTimeout,
			backoffBase:   defaultBackoffBase,
			backoffMax:    defaultBackoffMax,
			maxReconnects: defaultMaxReconnects,
			sendBuffer:    defaultSendBuffer,
			parentCtx:     context.Background(),
		},
		urlStr: urlStr,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli.start(ctx)
}

// start runs the connection sequence shared by Dial and DialWithOptions.
func (c *Client) start(ctx context.Context) (*Client, error) {
	c.finalize()

	err := c.establishConnection(ctx, false)
	if err != nil {
		if !c.cfg.autoReconnect {
			c.setState(StateDisconnected)
			c.Close()
			return nil, fmt.Errorf("%w: dial %s: %v", jsonrpc.ErrConnection, c.urlStr, err)
		}
		c.cfg.logger.Info("client: initial connection failed, retrying in background", "url", c.urlStr, "err", err)
		c.setState(StateReconnecting)
		go c.reconnectLoop()
	}

	go c.reaper()
	return c, nil
}

// finalize applies defaults for zero values after options ran.
func (c *Client) finalize() {
	if c.cfg.pingInterval < 0 {
		c.cfg.pingInterval = 0
	}
	if c.cfg.dialOptions == nil {
		c.cfg.dialOptions = &websocket.DialOptions{HTTPClient: http.DefaultClient}
	}
	if c.cfg.backoffMax < c.cfg.backoffBase {
		c.cfg.backoffMax = c.cfg.backoffBase
	}
	c.clientCtx, c.clientCancel = context.WithCancel(c.cfg.parentCtx)
	c.send = make(chan outFrame, c.cfg.sendBuffer)
	c.calls = pending.NewCorrelator(c.cfg.logger)
	c.subs = subs.NewRegistry(c.cfg.logger)
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev != s {
		c.cfg.logger.Debug("client: state transition", "from", prev, "to", s, "session", c.Session())
	}
}

// Session returns the id of the current physical connection, empty while
// never connected. It only serves log correlation.
func (c *Client) Session() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

func (c *Client) closed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.isClosed
}

// establishConnection dials and starts the pumps for a fresh connection.
// wasReconnecting selects the Reconnecting->Open bookkeeping (hook firing).
func (c *Client) establishConnection(ctx context.Context, wasReconnecting bool) error {
	if c.closed() {
		return errors.New("client is permanently closed")
	}
	c.setState(StateConnecting)

	// Stop pumps of any previous connection before replacing the handle,
	// so in-flight futures never observe a half-open state.
	c.connMu.Lock()
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.connMu.Unlock()
		c.pumpWg.Wait()
		c.connMu.Lock()
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusAbnormalClosure, "stale connection replaced")
		c.conn = nil
	}
	c.connMu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, c.cfg.dialTimeout)
	conn, httpResp, err := websocket.Dial(dialCtx, c.urlStr, c.cfg.dialOptions)
	dialCancel()
	if err != nil {
		if httpResp != nil {
			return fmt.Errorf("dial %s: %w (status: %s)", c.urlStr, err, httpResp.Status)
		}
		return fmt.Errorf("dial %s: %w", c.urlStr, err)
	}
	conn.SetReadLimit(maxReadBytes)

	session := xid.New().String()
	c.sessionMu.Lock()
	c.session = session
	c.sessionMu.Unlock()

	c.connMu.Lock()
	c.conn = conn
	c.pumpCtx, c.pumpCancel = context.WithCancel(c.clientCtx)
	c.pumpWg = sync.WaitGroup{}
	c.pumpWg.Add(2)
	go c.readPump(conn)
	go c.writePump(conn)
	if c.cfg.pingInterval > 0 {
		c.pumpWg.Add(1)
		go c.pingLoop(conn)
	}
	c.connMu.Unlock()

	c.setState(StateOpen)
	c.cfg.logger.Info("client: connected", "url", c.urlStr, "session", session)

	if wasReconnecting && c.cfg.onReconnect != nil {
		go c.cfg.onReconnect()
	}
	return nil
}

// reconnectLoop retries with exponential backoff and jitter until it
// succeeds, the retry budget is exhausted, or the client is closed. On
// give-up every pending call fails with jsonrpc.ErrConnection, the
// subscription registry is cleared, and the client returns to Disconnected;
// Connect can be called to try again explicitly.
func (c *Client) reconnectLoop() {
	c.reconnectingMu.Lock()
	if c.isReconnecting {
		c.reconnectingMu.Unlock()
		return
	}
	c.isReconnecting = true
	c.reconnectingMu.Unlock()

	defer func() {
		c.reconnectingMu.Lock()
		c.isReconnecting = false
		c.reconnectingMu.Unlock()
	}()

	c.cfg.logger.Info("client: reconnect loop started",
		"max_attempts", c.cfg.maxReconnects, "backoff_base", c.cfg.backoffBase, "backoff_max", c.cfg.backoffMax)

	attempts := 0
	delay := c.cfg.backoffBase
	for {
		if c.closed() {
			return
		}
		if c.cfg.maxReconnects > 0 && attempts >= c.cfg.maxReconnects {
			c.cfg.logger.Warn("client: reconnect attempts exhausted, giving up", "attempts", attempts)
			c.giveUp()
			return
		}

		// Jitter spreads herds of clients reconnecting to a recovering node.
		sleep := delay
		if jitterRange := int64(delay / 4); jitterRange > 0 {
			sleep += time.Duration(rand.Int63n(jitterRange))
		}
		select {
		case <-time.After(sleep):
		case <-c.clientCtx.Done():
			return
		}

		attempts++
		c.cfg.logger.Info("client: reconnect attempt", "attempt", attempts)
		err := c.establishConnection(c.clientCtx, true)
		if err == nil {
			c.cfg.logger.Info("client: reconnected", "attempts", attempts)
			return
		}
		c.cfg.logger.Info("client: reconnect attempt failed", "attempt", attempts, "err", err)
		c.setState(StateReconnecting)

		delay *= 2
		if delay > c.cfg.backoffMax {
			delay = c.cfg.backoffMax
		}
	}
}

// giveUp terminates every outstanding caller after the retry budget is
// spent. The client itself stays usable: it is Disconnected, not closed.
func (c *Client) giveUp() {
	c.calls.FailAll(fmt.Errorf("%w: reconnect attempts exhausted", jsonrpc.ErrConnection))
	c.drainSend()
	c.subs.Clear()
	c.setState(StateDisconnected)
}

// Connect re-establishes the connection explicitly, typically after a
// give-up returned the client to Disconnected. It is a no-op while a
// connection is live or being established.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed() {
		return fmt.Errorf("%w: client closed", jsonrpc.ErrConnection)
	}
	switch c.State() {
	case StateOpen, StateConnecting, StateReconnecting:
		return nil
	}
	if err := c.establishConnection(ctx, false); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %v", jsonrpc.ErrConnection, err)
	}
	return nil
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		if c.pumpCancel != nil {
			c.pumpCancel()
		}

		c.connMu.Lock()
		if c.conn == conn {
			conn.Close(websocket.StatusAbnormalClosure, "read pump terminated")
			c.conn = nil
		}
		c.connMu.Unlock()

		c.pumpWg.Done()

		if c.closed() {
			return // Close() owns the Closing -> Disconnected transition
		}
		if c.cfg.autoReconnect {
			// Pending calls are deliberately NOT failed here: they are held
			// through Reconnecting and either complete after resumption or
			// terminate via the reaper / give-up.
			c.setState(StateReconnecting)
			c.reconnectingMu.Lock()
			starting := !c.isReconnecting
			c.reconnectingMu.Unlock()
			if starting {
				go c.reconnectLoop()
			}
		} else {
			c.cfg.logger.Info("client: connection lost and auto-reconnect disabled", "session", c.Session())
			c.giveUp()
		}
	}()

	for {
		_, data, err := conn.Read(c.pumpCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case c.pumpCtx.Err() != nil || c.clientCtx.Err() != nil:
				// Shutdown initiated locally.
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.cfg.logger.Info("client: server closed connection", "status", status, "session", c.Session())
			default:
				c.cfg.logger.Warn("client: read error", "err", err, "session", c.Session())
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame. Decode failures and unmatched
// responses or pushes are logged and dropped; they never terminate the
// connection or surface to unrelated callers.
func (c *Client) dispatch(data []byte) {
	msg, err := jsonrpc.DecodeMessage(data)
	if err != nil {
		c.cfg.logger.Warn("client: dropping undecodable frame", "err", err, "session", c.Session())
		return
	}
	switch {
	case msg.Response != nil:
		resp := msg.Response
		if resp.Error != nil {
			c.calls.Reject(resp.ID, resp.Error)
		} else {
			c.calls.Resolve(resp.ID, resp.Result)
		}
	case msg.Notification != nil:
		n := msg.Notification
		// Dispatch synchronously from the read loop so per-subscription
		// server-emission order is preserved.
		if !c.subs.Dispatch(n.Params.Subscription, n.Params.Result) {
			c.cfg.logger.Debug("client: dropping push with no active subscription",
				"method", n.Method, "subscription", n.Params.Subscription)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn) {
	defer c.pumpWg.Done()

	for {
		frame, ok := c.nextFrame()
		if !ok {
			return
		}
		// Skip frames whose call already terminated (cancelled, timed out,
		// or failed while queued); transmitting them would execute the
		// request server-side after the caller saw a failure.
		if !c.calls.Has(frame.id) {
			continue
		}
		writeCtx, cancel := context.WithTimeout(c.pumpCtx, c.cfg.writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, frame.data)
		cancel()
		if err != nil {
			// Keep the frame for the next connection's pump; its call stays
			// pending through the reconnect. readPump's defer drives the
			// reconnect.
			c.stash(frame)
			c.cfg.logger.Warn("client: write failed", "err", err, "session", c.Session())
			if c.pumpCancel != nil {
				c.pumpCancel()
			}
			return
		}
	}
}

// nextFrame returns the carried-over frame if one exists, then frames from
// the queue, until the pump context ends.
func (c *Client) nextFrame() (outFrame, bool) {
	c.carryMu.Lock()
	if c.carry != nil {
		frame := *c.carry
		c.carry = nil
		c.carryMu.Unlock()
		return frame, true
	}
	c.carryMu.Unlock()

	select {
	case frame := <-c.send:
		return frame, true
	case <-c.pumpCtx.Done():
		return outFrame{}, false
	}
}

func (c *Client) stash(frame outFrame) {
	c.carryMu.Lock()
	c.carry = &frame
	c.carryMu.Unlock()
}

// drainSend drops every queued frame. Called after FailAll: the queued
// calls' callers already saw an error, so transmitting their frames on a
// later connection would execute requests nobody is waiting on.
func (c *Client) drainSend() {
	c.carryMu.Lock()
	c.carry = nil
	c.carryMu.Unlock()
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.pumpWg.Done()

	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.pumpCtx, c.cfg.pingInterval/2)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.cfg.logger.Warn("client: ping failed", "err", err, "session", c.Session())
				if c.pumpCancel != nil {
					c.pumpCancel()
				}
				return
			}
		case <-c.pumpCtx.Done():
			return
		}
	}
}

// reaper enforces call deadlines independent of connection state, so a
// call held through Reconnecting still terminates on time.
func (c *Client) reaper() {
	ticker := time.NewTicker(defaultReaperTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.calls.Expire(time.Now()); n > 0 {
				c.cfg.logger.Debug("client: reaped timed-out calls", "count", n)
			}
		case <-c.clientCtx.Done():
			return
		}
	}
}

// Call issues a correlated request and waits for its response. Requests
// issued while the connection is down queue in FIFO order and flush on the
// next Open. Cancelling ctx rejects the call locally (no cancel frame
// exists in JSON-RPC) and a later response for the id is dropped.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.closed() {
		return nil, fmt.Errorf("%w: client closed", jsonrpc.ErrConnection)
	}

	var deadline time.Time
	if c.cfg.callTimeout > 0 {
		deadline = time.Now().Add(c.cfg.callTimeout)
	}
	call := c.calls.Issue(method, deadline)

	req, err := jsonrpc.NewRequest(call.ID(), method, params)
	if err != nil {
		c.calls.Cancel(call.ID())
		return nil, err
	}
	frame, err := req.Encode()
	if err != nil {
		c.calls.Cancel(call.ID())
		return nil, err
	}

	select {
	case c.send <- outFrame{id: call.ID(), data: frame}:
	case <-ctx.Done():
		c.calls.Cancel(call.ID())
		<-call.Done()
		return c.finishCall(ctx, call)
	case <-c.clientCtx.Done():
		c.calls.Reject(call.ID(), fmt.Errorf("%w: client closed", jsonrpc.ErrConnection))
		<-call.Done()
		_, err := call.Result()
		return nil, err
	}

	select {
	case <-call.Done():
		return call.Result()
	case <-ctx.Done():
		// Cancel races a concurrent resolve; whichever completes the call
		// first wins, and the caller observes that single outcome.
		c.calls.Cancel(call.ID())
		<-call.Done()
		return c.finishCall(ctx, call)
	case <-c.clientCtx.Done():
		c.calls.Reject(call.ID(), fmt.Errorf("%w: client closed", jsonrpc.ErrConnection))
		<-call.Done()
		_, err := call.Result()
		return nil, err
	}
}

// finishCall maps a context-driven cancellation onto the error taxonomy: a
// deadline becomes ErrTimeout, a plain cancel stays ErrCancelled. A call
// that was resolved before the cancel won keeps its real result.
func (c *Client) finishCall(ctx context.Context, call *pending.Call) (json.RawMessage, error) {
	result, err := call.Result()
	if errors.Is(err, jsonrpc.ErrCancelled) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: call %d (%s)", jsonrpc.ErrTimeout, call.ID(), call.Method())
	}
	return result, err
}

// Pending reports the number of in-flight calls, and Subscriptions the
// number of active subscriptions.
func (c *Client) Pending() int       { return c.calls.Len() }
func (c *Client) Subscriptions() int { return c.subs.Len() }

// Close performs an operator-initiated shutdown: Closing -> Disconnected,
// never Reconnecting. Every pending call fails with jsonrpc.ErrConnection
// and subscriptions are deactivated. The client cannot be reused.
func (c *Client) Close() error {
	c.closedMu.Lock()
	if c.isClosed {
		c.closedMu.Unlock()
		return errors.New("client: already closed")
	}
	c.isClosed = true
	c.closedMu.Unlock()

	c.setState(StateClosing)
	c.clientCancel()
	c.pumpWg.Wait()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.conn = nil
	}
	c.connMu.Unlock()

	c.calls.FailAll(fmt.Errorf("%w: client closed", jsonrpc.ErrConnection))
	c.drainSend()
	c.subs.Clear()
	c.setState(StateDisconnected)
	c.cfg.logger.Info("client: closed", "url", c.urlStr)
	return nil
}
