package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/mschirtzinger/stockledger/internal/stocksync"
)

func startTestServer(t *testing.T, config *Config) (*Server, *Handler) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	if config == nil {
		config = &Config{}
	}
	config.Logger = logger

	server := NewServer(config)
	handler := NewHandler(server, logger)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	return server, handler
}

// dial connects a client and returns its greeting.
func dial(t *testing.T, server *Server) (*websocket.Conn, Event) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	return conn, readEvent(t, conn)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	return ev
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func passReport(id string, invalidated ...string) *stocksync.PassReport {
	return &stocksync.PassReport{
		ID:        id,
		StartedAt: time.Now(),
		Articles: stocksync.ArticleReport{
			Merged:      2,
			Invalidated: invalidated,
		},
		Jobs: []stocksync.JobReport{
			{WarehouseID: "w1", Merged: 3, Nullified: 1},
			{WarehouseID: "w2", Error: "warehouse not found"},
		},
	}
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == ":0" {
		t.Error("Addr() should report the bound address")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestServer_StopDisconnectsClients(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	conn, _, err := websocket.Dial(context.Background(), "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.CloseNow()
	waitForClients(t, server, 1)

	// The client must be reading to answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		readErr <- err
	}()

	done := make(chan error, 1)
	go func() { done <- server.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return with a client connected")
	}

	select {
	case err := <-readErr:
		if websocket.CloseStatus(err) != websocket.StatusGoingAway {
			t.Errorf("close status = %v, want %v", websocket.CloseStatus(err), websocket.StatusGoingAway)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}
}

func TestServer_PublishEvictsSlowSubscriber(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})

	slow := &subscriber{remote: "slow", send: make(chan []byte, 1), evicted: make(chan struct{})}
	fast := &subscriber{remote: "fast", send: make(chan []byte, 8), evicted: make(chan struct{})}
	server.subs[slow] = struct{}{}
	server.subs[fast] = struct{}{}

	for i := 0; i < 3; i++ {
		if err := server.Publish(Event{Kind: KindDropped}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	select {
	case <-slow.evicted:
	default:
		t.Error("slow subscriber should be evicted")
	}
	select {
	case <-fast.evicted:
		t.Error("fast subscriber should not be evicted")
	default:
	}
	if len(fast.send) != 3 {
		t.Errorf("fast subscriber queued %d events, want 3", len(fast.send))
	}
	if len(server.History()) != 0 {
		t.Error("only pass summaries are kept for replay")
	}
}

func TestServer_GreetingCarriesStats(t *testing.T) {
	server, handler := startTestServer(t, nil)
	handler.TriggerDropped(time.Now())

	_, greeting := dial(t, server)
	if greeting.Kind != KindStats {
		t.Fatalf("greeting kind = %s, want %s", greeting.Kind, KindStats)
	}

	var stats StatsData
	if err := json.Unmarshal(greeting.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	waitForClients(t, server, 1)
}

// TestServer_ReplaysRecentPasses verifies a late client receives the passes
// it missed, bounded by the history size.
func TestServer_ReplaysRecentPasses(t *testing.T) {
	server, handler := startTestServer(t, &Config{History: 2})

	for _, id := range []string{"p1", "p2", "p3"} {
		handler.PassCompleted(passReport(id), nil)
	}

	conn, greeting := dial(t, server)
	if greeting.Kind != KindStats {
		t.Fatalf("greeting kind = %s, want %s", greeting.Kind, KindStats)
	}

	for _, want := range []string{"p2", "p3"} {
		ev := readEvent(t, conn)
		if ev.Kind != KindPass {
			t.Fatalf("replayed kind = %s, want %s", ev.Kind, KindPass)
		}
		var pass PassData
		if err := json.Unmarshal(ev.Data, &pass); err != nil {
			t.Fatalf("Failed to unmarshal pass: %v", err)
		}
		if pass.ID != want {
			t.Errorf("replayed pass = %s, want %s", pass.ID, want)
		}
	}

	if got := len(server.History()); got != 2 {
		t.Errorf("len(History()) = %d, want 2", got)
	}
}

func TestHandler_PassCompleted(t *testing.T) {
	server, handler := startTestServer(t, nil)
	conn, _ := dial(t, server)
	waitForClients(t, server, 1)

	report := passReport("pass-1", "w1")
	report.Articles.Error = stocksync.ErrEmptyTimestamp.Error()
	handler.PassCompleted(report, nil)

	ev := readEvent(t, conn)
	if ev.Kind != KindPass {
		t.Fatalf("event kind = %s, want %s", ev.Kind, KindPass)
	}
	var pass PassData
	if err := json.Unmarshal(ev.Data, &pass); err != nil {
		t.Fatalf("Failed to unmarshal pass: %v", err)
	}
	if pass.ID != "pass-1" || pass.Jobs != 2 || pass.FailedJobs != 1 {
		t.Errorf("pass = %+v", pass)
	}
	if pass.ArticlesError == "" {
		t.Error("pass should carry the article step error")
	}

	ev = readEvent(t, conn)
	if ev.Kind != KindInvalidated {
		t.Fatalf("event kind = %s, want %s", ev.Kind, KindInvalidated)
	}
	var inv InvalidatedData
	if err := json.Unmarshal(ev.Data, &inv); err != nil {
		t.Fatalf("Failed to unmarshal invalidation: %v", err)
	}
	if len(inv.Warehouses) != 1 || inv.Warehouses[0] != "w1" {
		t.Errorf("invalidated = %v, want [w1]", inv.Warehouses)
	}

	ev = readEvent(t, conn)
	if ev.Kind != KindStats {
		t.Fatalf("event kind = %s, want %s", ev.Kind, KindStats)
	}

	stats := handler.GetStats()
	if stats.Passes != 1 || stats.FailedPass != 0 {
		t.Errorf("passes = %d/%d failed, want 1/0", stats.Passes, stats.FailedPass)
	}
	if stats.Jobs != 2 || stats.FailedJobs != 1 {
		t.Errorf("jobs = %d/%d failed, want 2/1", stats.Jobs, stats.FailedJobs)
	}
	if stats.LastPassID != "pass-1" {
		t.Errorf("LastPassID = %q, want pass-1", stats.LastPassID)
	}
}

func TestHandler_FailedPassCounted(t *testing.T) {
	_, handler := startTestServer(t, nil)

	handler.PassCompleted(&stocksync.PassReport{ID: "p", Error: "boom"}, errors.New("boom"))
	handler.PassCompleted(nil, nil)

	stats := handler.GetStats()
	if stats.Passes != 1 || stats.FailedPass != 1 {
		t.Errorf("passes = %d/%d failed, want 1/1", stats.Passes, stats.FailedPass)
	}
}

func TestServer_PassesEndpoint(t *testing.T) {
	server, handler := startTestServer(t, nil)

	get := func() []PassData {
		t.Helper()
		resp, err := http.Get("http://" + server.Addr() + "/passes")
		if err != nil {
			t.Fatalf("Passes request failed: %v", err)
		}
		defer resp.Body.Close()

		var events []Event
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			t.Fatalf("Failed to decode passes: %v", err)
		}
		out := make([]PassData, len(events))
		for i, ev := range events {
			if err := json.Unmarshal(ev.Data, &out[i]); err != nil {
				t.Fatalf("Failed to unmarshal pass: %v", err)
			}
		}
		return out
	}

	if passes := get(); len(passes) != 0 {
		t.Fatalf("expected no passes, got %d", len(passes))
	}

	handler.PassCompleted(passReport("p1"), nil)
	passes := get()
	if len(passes) != 1 || passes[0].ID != "p1" {
		t.Errorf("passes = %+v, want [p1]", passes)
	}
}

func TestServer_Health(t *testing.T) {
	server, _ := startTestServer(t, nil)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}
