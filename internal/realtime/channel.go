package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/tasksync/internal/notify"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

var (
	// ErrDisabled is returned by Start when the channel is administratively off.
	ErrDisabled = errors.New("real-time channel disabled")

	// ErrNoToken is returned by Start without an authenticated session.
	ErrNoToken = errors.New("no session token")
)

// Invalidator marks cached query results stale.
type Invalidator interface {
	Invalidate(collections ...schema.Collection)
}

// Config holds channel configuration.
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://)
	URL string

	// Token authenticates the session as a bearer token
	Token string

	// Disabled turns the channel off entirely
	Disabled bool

	// HandshakeTimeout bounds each connection attempt. Zero picks 2s for
	// local hosts and 5s otherwise.
	HandshakeTimeout time.Duration

	// BackoffBase and BackoffMax shape the reconnect delay
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// MaxAttempts is how many reconnects follow a drop before offline-mode
	MaxAttempts int

	// RetryInterval, when positive, retries from offline-mode periodically
	RetryInterval time.Duration

	// ReadLimit caps the size of an incoming frame
	ReadLimit int64

	// Logger for channel activity
	Logger *log.Logger

	// Notifier receives a notice on every state change
	Notifier notify.Notifier
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		MaxAttempts: 3,
		ReadLimit:   1 << 20,
		Logger:      log.New(os.Stderr, "[realtime] ", log.LstdFlags),
		Notifier:    notify.Nop{},
	}
}

// Channel is a push channel with a connection state machine:
//
//	disconnected -> connecting -> connected
//	connecting -> offline-mode (handshake failed or reconnects exhausted)
//	connected -> disconnected (unexpected drop, reconnects with backoff)
//	offline-mode -> connecting (Retry)
//	any -> closed (deliberate close by either side)
type Channel struct {
	config *Config
	inv    Invalidator
	logger *log.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	started   bool
	closing   bool
	cancel    context.CancelFunc
	listeners map[int]func(from, to State)
	handlers  map[int]func(Message)
	nextID    int

	// Serializes listener delivery so transitions are observed in order.
	deliverMu sync.Mutex

	retry chan struct{}
	wg    sync.WaitGroup
}

// New creates a channel in the disconnected state. inv may be nil.
func New(config *Config, inv Invalidator) (*Channel, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = defaults.ReadLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Notifier == nil {
		config.Notifier = notify.Nop{}
	}
	if config.URL != "" {
		if _, err := parseEndpoint(config.URL); err != nil {
			return nil, err
		}
	}

	return &Channel{
		config:    config,
		inv:       inv,
		logger:    config.Logger,
		state:     StateDisconnected,
		listeners: make(map[int]func(from, to State)),
		handlers:  make(map[int]func(Message)),
		retry:     make(chan struct{}, 1),
	}, nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins connecting in the background. It fails when the channel is
// disabled, has no token or URL, or was already started.
func (c *Channel) Start(ctx context.Context) error {
	if c.config.Disabled {
		return ErrDisabled
	}
	if c.config.Token == "" {
		return ErrNoToken
	}
	if c.config.URL == "" {
		return fmt.Errorf("real-time URL is required")
	}

	c.mu.Lock()
	if c.started || c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start channel in state %s", state)
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Retry leaves offline-mode and attempts a new connection.
func (c *Channel) Retry() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateOfflineMode {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, state)
	}
	select {
	case c.retry <- struct{}{}:
	default:
	}
	return nil
}

// Close tears the channel down. No reconnection follows. Safe to call more
// than once and before Start.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closing = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if c.State() != StateClosed {
		if err := c.transition(StateClosed); err != nil {
			c.logger.Printf("Close: %v", err)
		}
	}
	return nil
}

// Subscribe registers fn for every state change. fn runs synchronously and
// in transition order.
func (c *Channel) Subscribe(fn func(from, to State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// OnMessage registers fn for every incoming message, typing indicators
// included.
func (c *Channel) OnMessage(fn func(Message)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	}
}

// SendTyping emits a typing indicator. It is a no-op while not connected.
func (c *Channel) SendTyping(ctx context.Context, taskID string, typing bool) error {
	msg, err := NewMessage(MessageTyping, TypingData{TaskID: taskID, Typing: typing})
	if err != nil {
		return err
	}
	return c.Emit(ctx, msg)
}

// Emit writes msg to the channel. It is a no-op while not connected, and a
// failed write is logged rather than returned; the read side reports the
// drop.
func (c *Channel) Emit(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return nil
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Printf("Failed to emit %s: %v", msg.Type, err)
	}
	return nil
}

// run is the connection loop.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	// attempt counts reconnects since the last drop; zero means the
	// connection was never up in this cycle.
	attempt := 0

	for {
		if err := c.transition(StateConnecting); err != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Printf("Connection attempt failed: %v", err)

			if attempt == 0 || attempt >= c.config.MaxAttempts {
				if !c.waitOffline(ctx) {
					return
				}
				attempt = 0
				continue
			}

			if err := c.transition(StateDisconnected); err != nil {
				return
			}
			attempt++
			if !sleep(ctx, c.Backoff(attempt)) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		if err := c.transition(StateConnected); err != nil {
			c.dropConn(conn)
			return
		}

		deliberate := c.readLoop(ctx, conn)
		c.dropConn(conn)

		if deliberate {
			_ = c.transition(StateClosed)
			return
		}
		if err := c.transition(StateDisconnected); err != nil {
			return
		}

		attempt = 1
		if !sleep(ctx, c.Backoff(attempt)) {
			return
		}
	}
}

// waitOffline enters offline-mode and blocks until a retry is requested.
// It returns false when the channel is shutting down.
func (c *Channel) waitOffline(ctx context.Context) bool {
	// Drop a stale retry request from an earlier offline period.
	select {
	case <-c.retry:
	default:
	}

	if err := c.transition(StateOfflineMode); err != nil {
		return false
	}

	var tick <-chan time.Time
	if c.config.RetryInterval > 0 {
		ticker := time.NewTicker(c.config.RetryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.retry:
		c.logger.Println("Retrying after offline-mode")
		return true
	case <-tick:
		c.logger.Println("Periodic retry after offline-mode")
		return true
	}
}

// dial performs one handshake bounded by the handshake timeout. The
// connection outlives the timeout but not ctx.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	timeout := c.HandshakeTimeout()

	dialCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(timeout, cancel)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)

	conn, _, err := websocket.Dial(dialCtx, c.config.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	timedOut := !timer.Stop()
	if err != nil {
		cancel()
		if timedOut && ctx.Err() == nil {
			return nil, fmt.Errorf("handshake timed out after %v", timeout)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.config.URL, err)
	}
	if timedOut {
		cancel()
		_ = conn.CloseNow()
		return nil, fmt.Errorf("handshake timed out after %v", timeout)
	}

	conn.SetReadLimit(c.config.ReadLimit)
	return conn, nil
}

// readLoop consumes messages until the connection ends. It returns true
// when the end was deliberate.
func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosing() {
				return true
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.Printf("Server closed the channel: %v", err)
				return true
			}
			c.logger.Printf("Connection dropped: %v", err)
			return false
		}
		c.handle(data)
	}
}

func (c *Channel) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Printf("Ignoring malformed message: %v", err)
		return
	}

	if colls := msg.Type.Collections(); len(colls) > 0 && c.inv != nil {
		c.inv.Invalidate(colls...)
	}

	c.mu.Lock()
	handlers := make([]func(Message), 0, len(c.handlers))
	for _, id := range sortedKeys(c.handlers) {
		handlers = append(handlers, c.handlers[id])
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		c.safely(func() { fn(msg) })
	}
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Channel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.CloseNow()
}

// transition moves to next and informs listeners and the notifier.
func (c *Channel) transition(next State) error {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	prev := c.state
	if err := checkTransition(prev, next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	listeners := make([]func(from, to State), 0, len(c.listeners))
	for _, id := range sortedKeys(c.listeners) {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	c.logger.Printf("State %s -> %s", prev, next)
	for _, fn := range listeners {
		c.safely(func() { fn(prev, next) })
	}
	notify.Send(c.config.Notifier, stateNotice(next), c.logger)
	return nil
}

func (c *Channel) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("listener panicked: %v", r)
		}
	}()
	fn()
}

// Backoff returns the delay before reconnect attempt n (1-based).
func (c *Channel) Backoff(n int) time.Duration {
	d := c.config.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.config.BackoffMax {
			return c.config.BackoffMax
		}
	}
	if d > c.config.BackoffMax {
		return c.config.BackoffMax
	}
	return d
}

// HandshakeTimeout returns the effective per-attempt handshake timeout.
func (c *Channel) HandshakeTimeout() time.Duration {
	if c.config.HandshakeTimeout > 0 {
		return c.config.HandshakeTimeout
	}
	if isLocalHost(c.config.URL) {
		return 2 * time.Second
	}
	return 5 * time.Second
}

func isLocalHost(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid real-time URL %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("invalid real-time URL %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid real-time URL %q: missing host", endpoint)
	}
	return u, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func stateNotice(s State) notify.Notification {
	switch s {
	case StateConnecting:
		return notify.Notification{Level: notify.LevelInfo, Title: "Connecting", Message: "Connecting to live updates"}
	case StateConnected:
		return notify.Notification{Level: notify.LevelSuccess, Title: "Live updates on"}
	case StateDisconnected:
		return notify.Notification{Level: notify.LevelWarning, Title: "Connection lost", Message: "Reconnecting to live updates"}
	case StateOfflineMode:
		return notify.Notification{Level: notify.LevelWarning, Title: "Live updates unavailable", Message: "Changes from others appear on the next refresh"}
	default:
		return notify.Notification{Level: notify.LevelInfo, Title: "Live updates off"}
	}
}
