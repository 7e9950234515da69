package stocksync

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuard_TwoStates(t *testing.T) {
	var g Guard

	if g.Running() {
		t.Fatal("new guard should be idle")
	}
	if !g.TryAcquire() {
		t.Fatal("TryAcquire on idle guard failed")
	}

	state, since := g.State()
	if state != StateRunning {
		t.Errorf("state = %v, want running", state)
	}
	if since.IsZero() {
		t.Error("running guard should record its start time")
	}

	if g.TryAcquire() {
		t.Fatal("TryAcquire succeeded on running guard")
	}

	g.Release()
	if g.Running() {
		t.Error("guard still running after Release")
	}
	if !g.TryAcquire() {
		t.Error("TryAcquire after Release failed")
	}
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	var g Guard
	var acquired atomic.Int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.TryAcquire() {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		t.Errorf("%d goroutines acquired the guard, want 1", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{State(7), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
