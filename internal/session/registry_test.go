package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Options{Level: "error"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

// assertConsistent verifies the invariant that a session id appears in
// the by-id index iff it appears in exactly one map membership set,
// and that the player's map id equals that set's key.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, s := range r.sessions {
		memberships := 0
		for mapID, set := range r.byMap {
			if _, ok := set[id]; ok {
				memberships++
				if s.player.MapID != mapID {
					t.Errorf("session %s: player map %q but member of set %q", id, s.player.MapID, mapID)
				}
			}
		}
		if memberships != 1 {
			t.Errorf("session %s: member of %d map sets, want 1", id, memberships)
		}
	}
	for mapID, set := range r.byMap {
		if len(set) == 0 {
			t.Errorf("map %s: empty membership set not pruned", mapID)
		}
		for id := range set {
			if _, ok := r.sessions[id]; !ok {
				t.Errorf("map %s: references removed session %s", mapID, id)
			}
		}
	}
	for addr, id := range r.byTCP {
		if _, ok := r.sessions[id]; !ok {
			t.Errorf("tcp index %s: references removed session %s", addr, id)
		}
	}
	for addr, id := range r.byUDP {
		if _, ok := r.sessions[id]; !ok {
			t.Errorf("udp index %s: references removed session %s", addr, id)
		}
	}
}

func TestCreateSessionValidation(t *testing.T) {
	r := NewRegistry(testLogger(t))

	tests := []struct {
		name    string
		player  string
		color   string
		wantErr error
	}{
		{"valid", "Ann", "#FF0000", nil},
		{"blank name", "", "#FF0000", ErrBlankName},
		{"whitespace name", "   ", "#FF0000", ErrBlankName},
		{"blank color", "Ann", "", ErrBlankColor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := r.CreateSession(tt.player, tt.color)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateSession error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if snap.Player.ID == "" || snap.Token == "" {
				t.Error("session must have an id and a token")
			}
			if snap.Player.MapID != DefaultMapID {
				t.Errorf("new session map = %q, want %q", snap.Player.MapID, DefaultMapID)
			}
			if snap.TCPAddr != "" || snap.UDPAddr != nil {
				t.Error("new session must not have bound endpoints")
			}
		})
	}
}

func TestBindTCPRebindReplacesReverseEntry(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, err := r.CreateSession("Ann", "#FF0000")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := snap.Player.ID

	if err := r.BindTCP(id, "127.0.0.1:5001"); err != nil {
		t.Fatalf("BindTCP: %v", err)
	}
	got, err := r.ByTCP("127.0.0.1:5001")
	if err != nil || got.Player.ID != id {
		t.Fatalf("ByTCP after bind = (%v, %v), want session %s", got.Player.ID, err, id)
	}

	// Rebinding removes the first endpoint from the reverse index.
	if err := r.BindTCP(id, "127.0.0.1:5002"); err != nil {
		t.Fatalf("BindTCP rebind: %v", err)
	}
	if _, err := r.ByTCP("127.0.0.1:5001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old endpoint lookup error = %v, want ErrNotFound", err)
	}
	if got, err := r.ByTCP("127.0.0.1:5002"); err != nil || got.Player.ID != id {
		t.Errorf("new endpoint lookup = (%v, %v), want session %s", got.Player.ID, err, id)
	}
	assertConsistent(t, r)
}

func TestBindUDPRebindReplacesReverseEntry(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, _ := r.CreateSession("Ann", "#FF0000")
	id := snap.Player.ID

	first := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6001}
	second := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6002}

	if err := r.BindUDP(id, first); err != nil {
		t.Fatalf("BindUDP: %v", err)
	}
	if err := r.BindUDP(id, second); err != nil {
		t.Fatalf("BindUDP rebind: %v", err)
	}

	if _, err := r.ByUDP(first.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("old endpoint lookup error = %v, want ErrNotFound", err)
	}
	got, err := r.ByUDP(second.String())
	if err != nil || got.Player.ID != id {
		t.Errorf("new endpoint lookup = (%v, %v), want session %s", got.Player.ID, err, id)
	}
	if got.UDPAddr == nil || got.UDPAddr.Port != 6002 {
		t.Errorf("snapshot UDP addr = %v, want port 6002", got.UDPAddr)
	}
}

func TestBindUnknownSession(t *testing.T) {
	r := NewRegistry(testLogger(t))
	if err := r.BindTCP("nope", "127.0.0.1:5001"); !errors.Is(err, ErrNotFound) {
		t.Errorf("BindTCP error = %v, want ErrNotFound", err)
	}
	if err := r.BindUDP("nope", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6001}); !errors.Is(err, ErrNotFound) {
		t.Errorf("BindUDP error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMapTransfersMembership(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, _ := r.CreateSession("Ann", "#FF0000")
	id := snap.Player.ID

	if err := r.UpdateMap(id, "m1"); err != nil {
		t.Fatalf("UpdateMap m1: %v", err)
	}
	if err := r.UpdateMap(id, "m2"); err != nil {
		t.Fatalf("UpdateMap m2: %v", err)
	}

	if got := r.SessionsInMap("m1"); len(got) != 0 {
		t.Errorf("m1 still has %d sessions", len(got))
	}
	got := r.SessionsInMap("m2")
	if len(got) != 1 || got[0].Player.ID != id {
		t.Fatalf("m2 sessions = %v, want exactly session %s", got, id)
	}
	if got[0].Player.MapID != "m2" {
		t.Errorf("player map = %q, want m2", got[0].Player.MapID)
	}
	assertConsistent(t, r)
}

func TestUpdateMapValidation(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, _ := r.CreateSession("Ann", "#FF0000")

	if err := r.UpdateMap(snap.Player.ID, "  "); !errors.Is(err, ErrBlankMapID) {
		t.Errorf("blank map error = %v, want ErrBlankMapID", err)
	}
	if err := r.UpdateMap("nope", "m1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestRemoveSessionClearsAllIndices(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, _ := r.CreateSession("Ann", "#FF0000")
	id := snap.Player.ID

	if err := r.BindTCP(id, "127.0.0.1:5001"); err != nil {
		t.Fatalf("BindTCP: %v", err)
	}
	udp := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6001}
	if err := r.BindUDP(id, udp); err != nil {
		t.Fatalf("BindUDP: %v", err)
	}

	if err := r.RemoveSession(id); err != nil {
		t.Fatalf("RemoveSession: %v", err)
	}

	if _, err := r.ByID(id); !errors.Is(err, ErrNotFound) {
		t.Error("by-id index still holds removed session")
	}
	if _, err := r.ByTCP("127.0.0.1:5001"); !errors.Is(err, ErrNotFound) {
		t.Error("by-tcp index still holds removed session")
	}
	if _, err := r.ByUDP(udp.String()); !errors.Is(err, ErrNotFound) {
		t.Error("by-udp index still holds removed session")
	}
	if _, err := r.ByToken(snap.Token); !errors.Is(err, ErrNotFound) {
		t.Error("token index still holds removed session")
	}
	if got := r.SessionsInMap(DefaultMapID); len(got) != 0 {
		t.Error("map membership still holds removed session")
	}
	if err := r.RemoveSession(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove error = %v, want ErrNotFound", err)
	}
	assertConsistent(t, r)
}

func TestByTokenResolvesSession(t *testing.T) {
	r := NewRegistry(testLogger(t))
	snap, _ := r.CreateSession("Ann", "#FF0000")

	got, err := r.ByToken(snap.Token)
	if err != nil || got.Player.ID != snap.Player.ID {
		t.Errorf("ByToken = (%v, %v), want session %s", got.Player.ID, err, snap.Player.ID)
	}
	if _, err := r.ByToken("bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bogus token error = %v, want ErrNotFound", err)
	}
}

func TestUpdatePositionStampsUDPActivity(t *testing.T) {
	r := NewRegistry(testLogger(t))
	base := time.Now()
	r.now = func() time.Time { return base }

	snap, _ := r.CreateSession("Ann", "#FF0000")
	id := snap.Player.ID

	r.now = func() time.Time { return base.Add(5 * time.Second) }
	if err := r.UpdatePosition(id, 12.5, -3); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}

	got, _ := r.ByID(id)
	if got.Player.X != 12.5 || got.Player.Y != -3 {
		t.Errorf("position = (%v, %v), want (12.5, -3)", got.Player.X, got.Player.Y)
	}
	if !got.LastUDPActivity.Equal(base.Add(5 * time.Second)) {
		t.Errorf("UDP activity = %v, want stamped at +5s", got.LastUDPActivity)
	}
	if !got.LastTCPActivity.Equal(base) {
		t.Errorf("TCP activity = %v, must not move on position update", got.LastTCPActivity)
	}
}

func TestSweepRequiresBothChannelsStale(t *testing.T) {
	r := NewRegistry(testLogger(t))
	base := time.Now()
	r.now = func() time.Time { return base }

	stale, _ := r.CreateSession("Stale", "#111111")
	tcpActive, _ := r.CreateSession("TcpActive", "#222222")
	udpActive, _ := r.CreateSession("UdpActive", "#333333")

	// Advance the clock past the timeout, then refresh one channel on
	// each of the sessions that must survive.
	r.now = func() time.Time { return base.Add(time.Minute) }
	r.TouchTCP(tcpActive.Player.ID)
	r.TouchUDP(udpActive.Player.ID)

	evicted := r.Sweep(30 * time.Second)
	if len(evicted) != 1 || evicted[0].Player.ID != stale.Player.ID {
		t.Fatalf("Sweep evicted %v, want only %s", evicted, stale.Player.ID)
	}
	if _, err := r.ByID(stale.Player.ID); !errors.Is(err, ErrNotFound) {
		t.Error("stale session must be removed")
	}
	if _, err := r.ByID(tcpActive.Player.ID); err != nil {
		t.Error("TCP-active session must survive a sweep")
	}
	if _, err := r.ByID(udpActive.Player.ID); err != nil {
		t.Error("UDP-active session must survive a sweep")
	}
	assertConsistent(t, r)
}

func TestIndexConsistencyUnderMixedOperations(t *testing.T) {
	r := NewRegistry(testLogger(t))

	var ids []string
	for i := 0; i < 10; i++ {
		snap, err := r.CreateSession(fmt.Sprintf("p%d", i), "#00FF00")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		ids = append(ids, snap.Player.ID)
	}
	for i, id := range ids {
		if err := r.UpdateMap(id, fmt.Sprintf("map-%d", i%3)); err != nil {
			t.Fatalf("UpdateMap: %v", err)
		}
	}
	assertConsistent(t, r)

	for i, id := range ids {
		if i%2 == 0 {
			if err := r.RemoveSession(id); err != nil {
				t.Fatalf("RemoveSession: %v", err)
			}
		}
	}
	assertConsistent(t, r)

	if got := r.Count(); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if got := len(r.AllPlayers()); got != 5 {
		t.Errorf("AllPlayers = %d entries, want 5", got)
	}
}

func TestConcurrentRegistryAccess(t *testing.T) {
	r := NewRegistry(testLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, err := r.CreateSession(fmt.Sprintf("w%d-%d", n, j), "#ABCDEF")
				if err != nil {
					t.Errorf("CreateSession: %v", err)
					return
				}
				id := snap.Player.ID
				_ = r.BindTCP(id, fmt.Sprintf("127.0.0.1:%d", 10000+n*100+j))
				_ = r.UpdateMap(id, fmt.Sprintf("map-%d", j%4))
				_ = r.UpdatePosition(id, float32(j), float32(n))
				_, _ = r.ByToken(snap.Token)
				_ = r.SessionsInMap(fmt.Sprintf("map-%d", j%4))
				if j%2 == 0 {
					_ = r.RemoveSession(id)
				}
			}
		}(i)
	}
	wg.Wait()

	assertConsistent(t, r)
	if got := r.Count(); got != 8*25 {
		t.Errorf("Count = %d, want %d", got, 8*25)
	}
}
