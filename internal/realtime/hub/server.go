// Package hub is a development push hub for the real-time channel.
//
// The hub accepts authenticated WebSocket clients, broadcasts entity events
// to all of them and relays typing indicators between them. Events reach
// the hub through Broadcast, the Publisher helpers or POST /events.
package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/tasksync/internal/realtime"
)

// Server manages WebSocket connections and broadcasts channel messages.
type Server struct {
	addr     string
	token    string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan outbound

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool

	logger *log.Logger
}

// outbound is a message with an optional sender to skip.
type outbound struct {
	msg  realtime.Message
	from *websocket.Conn
}

// Config holds hub configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:8090, ":0" picks a free port)
	Addr string

	// Token clients must present as a bearer token. Empty accepts anyone.
	Token string

	// Logger for hub activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8090",
		Logger: log.New(os.Stderr, "[hub] ", log.LstdFlags),
	}
}

// NewServer creates a hub.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		token:     config.Token,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan outbound, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Handler returns the hub's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Stop closes every client with going-away and shuts down. Later calls
// are no-ops.
func (s *Server) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.logger.Println("Stopping hub")

	// Close clients before cancelling so they see going-away, not a drop.
	s.clientsMu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	for _, conn := range clients {
		_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
	}

	s.cancel()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Hub stopped")
	return nil
}

// Broadcast queues msg for every connected client.
func (s *Server) Broadcast(msg realtime.Message) {
	s.enqueue(outbound{msg: msg})
}

func (s *Server) enqueue(out outbound) {
	select {
	case s.broadcast <- out:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case out := <-s.broadcast:
			if out.msg.Timestamp.IsZero() {
				out.msg.Timestamp = time.Now().UTC()
			}

			data, err := json.Marshal(out.msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				if conn != out.from {
					clients = append(clients, conn)
				}
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // development hub
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop relays typing indicators and notices disconnects. Other client
// frames are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == realtime.MessageTyping {
			s.enqueue(outbound{msg: msg, from: conn})
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleEvents accepts a Message as JSON and broadcasts it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var msg realtime.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("invalid message: %v", err), http.StatusBadRequest)
		return
	}
	if msg.Type == "" {
		http.Error(w, "message type is required", http.StatusBadRequest)
		return
	}

	s.Broadcast(msg)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// GetAddr returns the hub's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the WebSocket endpoint clients dial.
func (s *Server) URL() string {
	return "ws://" + s.GetAddr() + "/ws"
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
