package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/tasksync/internal/notify"
	"github.com/mschirtzinger/tasksync/internal/schema"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(endpoint string) *Config {
	config := DefaultConfig()
	config.URL = endpoint
	config.Token = "secret"
	config.HandshakeTimeout = time.Second
	config.BackoffBase = 10 * time.Millisecond
	config.BackoffMax = 40 * time.Millisecond
	config.Logger = log.New(io.Discard, "", 0)
	return config
}

// stateLog records every state a channel enters.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(from, to State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, to)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type fakeInvalidator struct {
	mu   sync.Mutex
	seen []schema.Collection
}

func (f *fakeInvalidator) Invalidate(collections ...schema.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, collections...)
}

func (f *fakeInvalidator) has(c schema.Collection) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.seen {
		if s == c {
			return true
		}
	}
	return false
}

// hold keeps a server-side connection open until the peer goes away.
func hold(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			return
		}
	}
}

func startChannel(t *testing.T, config *Config, inv Invalidator) (*Channel, *stateLog) {
	t.Helper()

	ch, err := New(config, inv)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	sl := &stateLog{}
	ch.Subscribe(sl.record)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, sl
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateOfflineMode, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateOfflineMode, false},
		{StateOfflineMode, StateConnecting, true},
		{StateOfflineMode, StateConnected, false},
		{StateClosed, StateConnecting, false},
		{StateClosed, StateDisconnected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChannel_ConnectsThroughConnecting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hold(conn)
	}))
	t.Cleanup(srv.Close)

	ch, states := startChannel(t, testConfig(wsURL(srv)), nil)

	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateConnected }) {
		t.Fatalf("state = %s, want connected", ch.State())
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	want := []State{StateConnecting, StateConnected, StateClosed}
	if got := states.snapshot(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestChannel_EventsInvalidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		msg, _ := NewMessage(MessageProjectUpdated, EntityEvent{ID: "p-1", Action: "updated"})
		data, _ := json.Marshal(msg)
		_ = conn.Write(context.Background(), websocket.MessageText, data)
		hold(conn)
	}))
	t.Cleanup(srv.Close)

	inv := &fakeInvalidator{}
	ch, _ := startChannel(t, testConfig(wsURL(srv)), inv)

	received := make(chan Message, 1)
	ch.OnMessage(func(m Message) {
		select {
		case received <- m:
		default:
		}
	})

	if !waitFor(t, 2*time.Second, func() bool { return inv.has(schema.CollectionProjects) }) {
		t.Fatal("projects not invalidated by project.updated")
	}
	if inv.has(schema.CollectionTasks) {
		t.Error("tasks invalidated by a project event")
	}

	select {
	case m := <-received:
		var ev EntityEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil || ev.ID != "p-1" {
			t.Errorf("event = %+v (%v)", ev, err)
		}
	case <-time.After(2 * time.Second):
		t.Error("OnMessage handler not called")
	}
}

func TestChannel_HandshakeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	config := testConfig(wsURL(srv))
	config.HandshakeTimeout = 50 * time.Millisecond
	notes := &notify.Recorder{}
	config.Notifier = notes

	ch, states := startChannel(t, config, nil)

	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOfflineMode }) {
		t.Fatalf("state = %s, want offline-mode", ch.State())
	}

	if err := ch.SendTyping(context.Background(), "t-1", true); err != nil {
		t.Errorf("SendTyping() in offline-mode = %v, want nil", err)
	}

	want := []State{StateConnecting, StateOfflineMode}
	if got := states.snapshot(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if got := len(notes.All()); got != 2 {
		t.Errorf("got %d notifications, want one per transition", got)
	}
}

func TestChannel_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	ch, _ := startChannel(t, testConfig(endpoint), nil)

	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOfflineMode }) {
		t.Fatalf("state = %s, want offline-mode", ch.State())
	}
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			_ = conn.CloseNow()
			return
		}
		hold(conn)
	}))
	t.Cleanup(srv.Close)

	_, states := startChannel(t, testConfig(wsURL(srv)), nil)

	want := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}
	ok := waitFor(t, 2*time.Second, func() bool { return len(states.snapshot()) >= len(want) })
	if !ok {
		t.Fatalf("states = %v, want %v", states.snapshot(), want)
	}
	if got := states.snapshot(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestChannel_OfflineAfterReconnectsExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.CloseNow()
	}))
	t.Cleanup(srv.Close)

	ch, states := startChannel(t, testConfig(wsURL(srv)), nil)

	if !waitFor(t, 3*time.Second, func() bool { return ch.State() == StateOfflineMode }) {
		t.Fatalf("state = %s, want offline-mode", ch.State())
	}

	if got := hits.Load(); got != 4 {
		t.Errorf("server saw %d handshakes, want 1 initial + 3 reconnects", got)
	}

	want := []State{
		StateConnecting, StateConnected,
		StateDisconnected, StateConnecting,
		StateDisconnected, StateConnecting,
		StateDisconnected, StateConnecting,
		StateOfflineMode,
	}
	if got := states.snapshot(); !equalStates(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestChannel_RetryFromOfflineMode(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hold(conn)
	}))
	t.Cleanup(srv.Close)

	ch, err := New(testConfig(wsURL(srv)), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { ch.Close() })

	if err := ch.Retry(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Retry() while disconnected = %v, want ErrInvalidTransition", err)
	}

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateOfflineMode }) {
		t.Fatalf("state = %s, want offline-mode", ch.State())
	}

	healthy.Store(true)
	if err := ch.Retry(); err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateConnected }) {
		t.Errorf("state = %s after retry, want connected", ch.State())
	}
}

func TestChannel_ServerCloseIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "logged out")
	}))
	t.Cleanup(srv.Close)

	ch, _ := startChannel(t, testConfig(wsURL(srv)), nil)

	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateClosed }) {
		t.Fatalf("state = %s, want closed", ch.State())
	}

	time.Sleep(50 * time.Millisecond)
	if got := hits.Load(); got != 1 {
		t.Errorf("server saw %d handshakes, want no reconnect after close", got)
	}
}

func TestChannel_SendTypingWhenConnected(t *testing.T) {
	got := make(chan Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.Read(context.Background())
		if err == nil {
			var msg Message
			if json.Unmarshal(data, &msg) == nil {
				got <- msg
			}
		}
		hold(conn)
	}))
	t.Cleanup(srv.Close)

	ch, _ := startChannel(t, testConfig(wsURL(srv)), nil)
	if !waitFor(t, 2*time.Second, func() bool { return ch.State() == StateConnected }) {
		t.Fatalf("state = %s, want connected", ch.State())
	}

	if err := ch.SendTyping(context.Background(), "t-9", true); err != nil {
		t.Fatalf("SendTyping() failed: %v", err)
	}

	select {
	case msg := <-got:
		var data TypingData
		if msg.Type != MessageTyping || json.Unmarshal(msg.Data, &data) != nil || data.TaskID != "t-9" || !data.Typing {
			t.Errorf("server received %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator not received")
	}
}

func TestChannel_StartRequirements(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"disabled", func(c *Config) { c.Disabled = true }, ErrDisabled},
		{"no token", func(c *Config) { c.Token = "" }, ErrNoToken},
		{"no url", func(c *Config) { c.URL = "" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig("ws://127.0.0.1:1/ws")
			tt.mutate(config)

			ch, err := New(config, nil)
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}

			err = ch.Start(context.Background())
			if err == nil {
				t.Fatal("Start() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() = %v, want %v", err, tt.wantErr)
			}
			if ch.State() != StateDisconnected {
				t.Errorf("state = %s, want disconnected", ch.State())
			}
		})
	}
}

func TestChannel_CloseBeforeStart(t *testing.T) {
	ch, err := New(testConfig("ws://127.0.0.1:1/ws"), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if ch.State() != StateClosed {
		t.Errorf("state = %s, want closed", ch.State())
	}
	if err := ch.Start(context.Background()); err == nil {
		t.Error("Start() after Close() should fail")
	}
	if err := ch.SendTyping(context.Background(), "t-1", false); err != nil {
		t.Errorf("SendTyping() after Close() = %v, want nil", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestChannel_ListenerPanicIsContained(t *testing.T) {
	ch, err := New(testConfig("ws://127.0.0.1:1/ws"), nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ch.Subscribe(func(from, to State) { panic("boom") })

	var seen atomic.Bool
	ch.Subscribe(func(from, to State) { seen.Store(true) })

	if err := ch.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !seen.Load() {
		t.Error("listener after a panicking one was not called")
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, endpoint := range []string{"ftp://example.com/ws", "ws://", "://nope"} {
		if _, err := New(&Config{URL: endpoint}, nil); err == nil {
			t.Errorf("New(%q) should fail", endpoint)
		}
	}
}

func TestBackoff(t *testing.T) {
	ch, err := New(&Config{BackoffBase: time.Second, BackoffMax: 30 * time.Second}, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		if got := ch.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestHandshakeTimeout(t *testing.T) {
	tests := []struct {
		url      string
		override time.Duration
		want     time.Duration
	}{
		{"ws://localhost:8090/ws", 0, 2 * time.Second},
		{"ws://127.0.0.1:8090/ws", 0, 2 * time.Second},
		{"wss://tasks.example.com/ws", 0, 5 * time.Second},
		{"wss://tasks.example.com/ws", 250 * time.Millisecond, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			ch, err := New(&Config{URL: tt.url, HandshakeTimeout: tt.override}, nil)
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			if got := ch.HandshakeTimeout(); got != tt.want {
				t.Errorf("HandshakeTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageType_Collections(t *testing.T) {
	tests := []struct {
		typ  MessageType
		want []schema.Collection
	}{
		{MessageTaskAssigned, []schema.Collection{schema.CollectionTasks}},
		{MessageTaskDeleted, []schema.Collection{schema.CollectionTasks, schema.CollectionTimeEntries}},
		{MessageTimeEntryUpdated, []schema.Collection{schema.CollectionTimeEntries, schema.CollectionTasks}},
		{MessageTyping, nil},
		{"unknown", nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got := tt.typ.Collections()
			if len(got) != len(tt.want) {
				t.Fatalf("Collections() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Collections() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
