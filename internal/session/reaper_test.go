package session

import (
	"sync"
	"testing"
	"time"
)

func TestReaperEvictsIdleSessions(t *testing.T) {
	r := NewRegistry(testLogger(t))
	base := time.Now()
	r.now = func() time.Time { return base }

	stale, _ := r.CreateSession("Stale", "#111111")
	live, _ := r.CreateSession("Live", "#222222")

	// Make only one session idle on both channels.
	r.now = func() time.Time { return base.Add(time.Minute) }
	r.TouchTCP(live.Player.ID)

	var mu sync.Mutex
	var evicted []string
	reaper := NewReaper(r, 10*time.Millisecond, 30*time.Second, func(snap Snapshot) {
		mu.Lock()
		evicted = append(evicted, snap.Player.ID)
		mu.Unlock()
	}, testLogger(t))

	reaper.Start()
	defer reaper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(evicted)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reaper never evicted the idle session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != stale.Player.ID {
		t.Fatalf("evicted = %v, want only %s", evicted, stale.Player.ID)
	}
	if _, err := r.ByID(live.Player.ID); err != nil {
		t.Error("session with recent TCP activity must survive")
	}
}

func TestReaperStopIsIdempotent(t *testing.T) {
	r := NewRegistry(testLogger(t))
	reaper := NewReaper(r, 10*time.Millisecond, time.Second, nil, testLogger(t))
	reaper.Start()
	reaper.Stop()
	reaper.Stop()
}
