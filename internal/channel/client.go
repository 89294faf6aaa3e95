package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackview/trackview-core/internal/infrastructure/config"
)

// dialTimeout bounds each connection attempt, including automatic
// reconnect attempts which have no caller-supplied context.
const dialTimeout = 10 * time.Second

// Logger defines the logging interface used by the Client.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// State describes the client's connection status.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// listenerEntry pairs a registered callback with its registration id so
// the disposer returned by On can remove exactly that callback.
type listenerEntry struct {
	id int
	fn func(Message)
}

// Client owns one logical push connection to the tracking backend.
//
// It maintains a subscription ledger that survives reconnects, dispatches
// typed inbound messages to registered listeners in FIFO arrival order,
// and reconnects with linear backoff after an unexpected close.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listener callbacks run on the connection's read goroutine, so
//     dispatch order matches arrival order with no batching.
type Client struct {
	cfg    config.ChannelConfig
	dialer Dialer
	logger Logger

	mu     sync.Mutex
	conn   Transport
	connID string
	open   bool
	token  string

	// suppress is set by Disconnect and cleared by Connect; while set,
	// no automatic reconnect attempt is scheduled.
	suppress bool

	attempts       int
	reconnectTimer *time.Timer

	ledger    map[int64]struct{}
	listeners map[MessageType][]listenerEntry
	nextID    int

	pingStop chan struct{}

	// writeMu serialises frames onto the transport; the websocket
	// connection does not support concurrent writers.
	writeMu sync.Mutex
}

// New creates a push-channel client for the configured endpoint.
// The client starts disconnected; call Connect to establish the link.
func New(cfg config.ChannelConfig) *Client {
	return &Client{
		cfg:       cfg,
		dialer:    websocketDialer{},
		logger:    noopLogger{},
		ledger:    make(map[int64]struct{}),
		listeners: make(map[MessageType][]listenerEntry),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// log returns the current logger. Call sites holding c.mu read the
// field directly.
func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// SetDialer replaces the transport dialer. Intended for tests.
func (c *Client) SetDialer(d Dialer) {
	c.mu.Lock()
	c.dialer = d
	c.mu.Unlock()
}

// Connect establishes the push connection.
//
// It returns once the transport reports open, or with an error if the
// transport fails before open. On open, a non-empty subscription ledger
// is replayed as a single subscribe message (the full set, never a diff).
//
// The token authenticates the connection; it is carried as a query
// parameter on the connection URL. An empty token connects anonymously.
//
// Connect also re-arms automatic reconnection after a previous
// Disconnect or after the backoff attempts were exhausted.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.suppress = false
	c.token = token
	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial performs one connection attempt and, on success, installs the
// connection and starts its read and keepalive goroutines.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	rawURL, err := c.connectionURL()
	dialer := c.dialer
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn, err := dialer.DialContext(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	if c.suppress || c.conn != nil {
		// Disconnect raced the dial, or an explicit Connect won.
		c.mu.Unlock()
		conn.Close()
		return nil
	}

	c.conn = conn
	c.connID = uuid.NewString()
	c.open = true
	c.attempts = 0
	connID := c.connID
	ledger := c.subscribedLocked()

	stop := make(chan struct{})
	c.pingStop = stop
	pingInterval := time.Duration(c.cfg.PingInterval) * time.Second
	c.mu.Unlock()

	c.log().Info("channel connected", "conn_id", connID, "subscriptions", len(ledger))

	// Replay the full ledger before anything else goes out on this
	// connection, so the server's view matches ours from the first frame.
	if len(ledger) > 0 {
		c.write(conn, subscribeMessage{Type: "subscribe", DeviceIDs: ledger})
	}

	go c.readLoop(conn, connID)
	if pingInterval > 0 {
		go c.pingLoop(conn, stop, pingInterval)
	}

	return nil
}

// connectionURL builds the websocket URL, attaching the bearer token as
// a query parameter when present. Caller must hold c.mu.
func (c *Client) connectionURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing channel url: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// readLoop reads frames until the transport fails, dispatching each in
// arrival order.
func (c *Client) readLoop(conn Transport, connID string) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, connID, err)
			return
		}
		c.dispatch(data)
	}
}

// pingLoop sends keepalive pings until stopped.
func (c *Client) pingLoop(conn Transport, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.write(conn, pingMessage{Type: "ping"})
		}
	}
}

// handleClosed tears down state for a failed connection and schedules a
// reconnect attempt unless the close was deliberate.
func (c *Client) handleClosed(conn Transport, connID string, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection (or a Disconnect) already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.open = false
	c.stopPingLocked()
	deliberate := c.suppress
	c.mu.Unlock()

	conn.Close()

	if deliberate {
		return
	}

	c.log().Warn("channel connection lost", "conn_id", connID, "error", err)
	c.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt.
//
// Attempt n (1-based) fires after BaseDelay * n. After MaxAttempts
// failed attempts no further automatic attempts occur; only an explicit
// Connect resumes.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppress || c.conn != nil {
		return
	}

	c.attempts++
	if c.attempts > c.cfg.Reconnect.MaxAttempts {
		c.logger.Error("channel reconnect attempts exhausted",
			"attempts", c.cfg.Reconnect.MaxAttempts,
		)
		return
	}

	delay := c.cfg.Reconnect.BaseDelayDuration() * time.Duration(c.attempts)
	c.logger.Info("channel reconnect scheduled",
		"attempt", c.attempts,
		"delay", delay.String(),
	)
	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
}

// attemptReconnect runs one timed reconnect attempt.
func (c *Client) attemptReconnect() {
	c.mu.Lock()
	if c.suppress || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := c.dial(ctx); err != nil {
		c.log().Warn("channel reconnect attempt failed", "error", err)
		c.scheduleReconnect()
	}
}

// dispatch decodes one inbound frame and invokes the listeners
// registered for its type, in registration order.
//
// A frame that fails to decode is dropped and logged; it never reaches
// listeners and never disturbs their registrations.
func (c *Client) dispatch(data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		c.log().Warn("dropping malformed channel message", "error", err)
		return
	}

	c.mu.Lock()
	entries := make([]listenerEntry, len(c.listeners[msg.Kind()]))
	copy(entries, c.listeners[msg.Kind()])
	c.mu.Unlock()

	for _, entry := range entries {
		c.invoke(entry, msg)
	}
}

// invoke runs one listener with panic recovery so a misbehaving
// listener cannot kill the read loop.
func (c *Client) invoke(entry listenerEntry, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("channel listener panic recovered",
				"type", string(msg.Kind()),
				"panic", r,
			)
		}
	}()
	entry.fn(msg)
}

// On registers a listener for a message type.
//
// Multiple listeners per type are invoked in registration order for each
// inbound message. The returned disposer removes exactly this listener;
// calling it more than once is harmless.
func (c *Client) On(t MessageType, fn func(Message)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[t] = append(c.listeners[t], listenerEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.listeners[t]
		for i, entry := range entries {
			if entry.id == id {
				c.listeners[t] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Subscribe adds device ids to the subscription ledger.
//
// The ledger update is an idempotent set union and applies whether or
// not the connection is open; when open, a subscribe message for the
// given ids is also sent. Ids already in the ledger are resent, which
// the server treats as a no-op.
func (c *Client) Subscribe(ids []int64) {
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	for _, id := range ids {
		c.ledger[id] = struct{}{}
	}
	conn, open := c.conn, c.open
	c.mu.Unlock()

	if open {
		c.write(conn, subscribeMessage{Type: "subscribe", DeviceIDs: ids})
	}
}

// Unsubscribe removes device ids from the subscription ledger.
//
// The ledger update is an idempotent set difference and applies whether
// or not the connection is open; when open, an unsubscribe message for
// the given ids is also sent.
func (c *Client) Unsubscribe(ids []int64) {
	if len(ids) == 0 {
		return
	}

	c.mu.Lock()
	for _, id := range ids {
		delete(c.ledger, id)
	}
	conn, open := c.conn, c.open
	c.mu.Unlock()

	if open {
		c.write(conn, subscribeMessage{Type: "unsubscribe", DeviceIDs: ids})
	}
}

// Subscribed returns the current subscription ledger, sorted ascending.
func (c *Client) Subscribed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribedLocked()
}

// subscribedLocked returns the sorted ledger. Caller must hold c.mu.
func (c *Client) subscribedLocked() []int64 {
	ids := make([]int64, 0, len(c.ledger))
	for id := range c.ledger {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State returns the current connection status.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.open:
		return StateConnected
	case !c.suppress && c.reconnectTimer != nil:
		return StateReconnecting
	default:
		return StateDisconnected
	}
}

// Disconnect closes the connection deliberately.
//
// It cancels any pending reconnect attempt, clears the subscription
// ledger and all listeners, and suppresses automatic reconnection until
// the next explicit Connect. Disconnect is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.suppress = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.attempts = 0
	c.ledger = make(map[int64]struct{})
	c.listeners = make(map[MessageType][]listenerEntry)
	conn := c.conn
	connID := c.connID
	c.conn = nil
	c.open = false
	c.stopPingLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		c.log().Info("channel disconnected", "conn_id", connID)
	}
}

// stopPingLocked stops the keepalive goroutine. Caller must hold c.mu.
func (c *Client) stopPingLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}

// write marshals v and sends it on conn. Write failures are logged; the
// read loop observes the broken transport and drives reconnection.
func (c *Client) write(conn Transport, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log().Error("marshalling channel message", "error", err)
		return
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		c.log().Warn("writing channel message", "error", err)
	}
}
