// Package session owns the authoritative state of connected players:
// one registry indexes every session by id, token, TCP endpoint, UDP
// endpoint, and map membership, and all compound mutations happen
// under a single critical section so no reader ever observes the
// indices out of step.
package session

import (
	"math/rand"
	"net"
	"time"
)

// DefaultMapID is the map every new session joins.
const DefaultMapID = "default"

// Spawn area for new players.
const (
	spawnCenterX  float32 = 400
	spawnCenterY  float32 = 300
	spawnVariance float32 = 50
)

// Player is the game-visible state of one connected client.
type Player struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	MapID string  `json:"mapId"`
}

// Snapshot is an immutable copy of one session, safe to hold across
// goroutines. Components outside the registry never see live session
// state.
type Snapshot struct {
	Player          Player
	Token           string
	TCPAddr         string
	UDPAddr         *net.UDPAddr
	LastTCPActivity time.Time
	LastUDPActivity time.Time
}

// liveSession is the registry-owned mutable record.
type liveSession struct {
	player  Player
	token   string
	tcpAddr string
	udpAddr *net.UDPAddr
	lastTCP time.Time
	lastUDP time.Time
}

func (s *liveSession) snapshot() Snapshot {
	snap := Snapshot{
		Player:          s.player,
		Token:           s.token,
		TCPAddr:         s.tcpAddr,
		LastTCPActivity: s.lastTCP,
		LastUDPActivity: s.lastUDP,
	}
	if s.udpAddr != nil {
		addr := *s.udpAddr
		snap.UDPAddr = &addr
	}
	return snap
}

// isInactive reports whether both transports have been quiet longer
// than the timeout. Activity on either channel keeps a session alive.
func (s *liveSession) isInactive(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.lastTCP) > timeout && now.Sub(s.lastUDP) > timeout
}

func randomSpawnPosition() (float32, float32) {
	x := spawnCenterX + rand.Float32()*spawnVariance*2 - spawnVariance
	y := spawnCenterY + rand.Float32()*spawnVariance*2 - spawnVariance
	return x, y
}
