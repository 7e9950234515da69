// Package dashboard streams sync activity to WebSocket clients.
//
// Each client has its own bounded send queue drained by a writer goroutine,
// so a stalled browser tab cannot hold up the daemon: when its queue is full
// the client is disconnected. New clients are greeted with the running
// totals, followed by the most recent pass summaries.
//
// Endpoints:
//
//	/ws       event stream
//	/passes   recent pass summaries as a JSON array
//	/health   liveness and client count
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	KindPass        EventKind = "pass_complete"
	KindInvalidated EventKind = "invalidated"
	KindDropped     EventKind = "trigger_dropped"
	KindStats       EventKind = "stats"
)

// Event is one message on the stream.
type Event struct {
	Kind EventKind       `json:"kind"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data into an Event of the given kind stamped with at.
func NewEvent(kind EventKind, at time.Time, data any) (Event, error) {
	ev := Event{Kind: kind, At: at}
	if data == nil {
		return ev, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ev, fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	ev.Data = raw
	return ev, nil
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default 8080, 0 picks a free port).
	Port int

	// History is the number of pass summaries kept for replay (default 20).
	History int

	// QueueSize bounds the events waiting for one client (default 64).
	QueueSize int

	// PingInterval keeps idle connections alive (default 30s).
	PingInterval time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the defaults used by NewServer.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		History:      20,
		QueueSize:    64,
		PingInterval: 30 * time.Second,
		Logger:       log.Default(),
	}
}

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte

	// evicted is closed when the subscriber fell behind.
	evicted chan struct{}
	once    sync.Once
}

func (sub *subscriber) evict() {
	sub.once.Do(func() { close(sub.evicted) })
}

// Server fans events out to WebSocket subscribers.
type Server struct {
	cfg    Config
	logger *log.Logger

	listener net.Listener
	http     *http.Server

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	history [][]byte
	greet   func() Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. Zero fields of config take their defaults.
func NewServer(config *Config) *Server {
	cfg := *DefaultConfig()
	if config != nil {
		cfg.Port = config.Port
		if config.History > 0 {
			cfg.History = config.History
		}
		if config.QueueSize > 0 {
			cfg.QueueSize = config.QueueSize
		}
		if config.PingInterval > 0 {
			cfg.PingInterval = config.PingInterval
		}
		if config.Logger != nil {
			cfg.Logger = config.Logger
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[*subscriber]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnConnect sets the event sent first to every new subscriber.
func (s *Server) OnConnect(greet func() Event) {
	s.mu.Lock()
	s.greet = greet
	s.mu.Unlock()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleStream)
	mux.HandleFunc("/passes", s.handlePasses)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every subscriber and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", serr)
		}
	}

	// Hijacked stream connections are not tracked by Shutdown.
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Publish sends ev to every subscriber. Pass summaries are also kept for
// replay. A subscriber whose queue is full is evicted.
func (s *Server) Publish(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == KindPass {
		s.history = append(s.history, msg)
		if over := len(s.history) - s.cfg.History; over > 0 {
			s.history = append(s.history[:0:0], s.history[over:]...)
		}
	}

	for sub := range s.subs {
		select {
		case sub.send <- msg:
		default:
			s.logger.Printf("Warning: evicting client %s, %d events behind", sub.remote, len(sub.send))
			sub.evict()
		}
	}
	return nil
}

// History returns the retained pass summaries, oldest first.
func (s *Server) History() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]json.RawMessage, len(s.history))
	for i, msg := range s.history {
		out[i] = msg
	}
	return out
}

// subscribe registers conn and queues its greeting and the replay under the
// same lock Publish takes, so nothing published concurrently is reordered.
func (s *Server) subscribe(conn *websocket.Conn, remote string) (*subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{
		conn:    conn,
		remote:  remote,
		send:    make(chan []byte, s.cfg.QueueSize+len(s.history)+1),
		evicted: make(chan struct{}),
	}

	if s.greet != nil {
		ev := s.greet()
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		msg, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to encode greeting: %w", err)
		}
		sub.send <- msg
	}
	for _, msg := range s.history {
		sub.send <- msg
	}

	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Server) unsubscribe(sub *subscriber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
	return len(s.subs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub, err := s.subscribe(conn, r.RemoteAddr)
	if err != nil {
		s.logger.Printf("Error: %v", err)
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.logger.Printf("Client connected from %s (total: %d)", r.RemoteAddr, s.ClientCount())

	status, reason := s.serve(sub)
	n := s.unsubscribe(sub)
	if status == websocket.StatusAbnormalClosure {
		_ = conn.CloseNow()
	} else {
		_ = conn.Close(status, reason)
	}
	s.logger.Printf("Client %s disconnected: %s (total: %d)", r.RemoteAddr, describeClose(status, reason), n)
}

// serve writes queued events and pings until the client goes away, falls
// behind, or the server stops. It returns the close status to send.
func (s *Server) serve(sub *subscriber) (websocket.StatusCode, string) {
	// Client frames are discarded; ctx ends when the client disconnects.
	ctx := sub.conn.CloseRead(s.ctx)

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return websocket.StatusGoingAway, "server shutting down"

		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""

		case <-sub.evicted:
			return websocket.StatusPolicyViolation, "client too slow"

		case msg := <-sub.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := sub.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return websocket.StatusAbnormalClosure, "write failed"
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := sub.conn.Ping(pctx)
			cancel()
			if err != nil {
				return websocket.StatusAbnormalClosure, "ping failed"
			}
		}
	}
}

func describeClose(status websocket.StatusCode, reason string) string {
	if reason == "" {
		return status.String()
	}
	return fmt.Sprintf("%s (%s)", status, reason)
}

func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.History()); err != nil {
		s.logger.Printf("Failed to write pass history: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := map[string]any{
		"status":  "ok",
		"clients": len(s.subs),
		"passes":  len(s.history),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Addr returns the bound address once started, or the configured port.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf(":%d", s.cfg.Port)
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
