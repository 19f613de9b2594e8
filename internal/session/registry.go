package session

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

var (
	// ErrNotFound reports a lookup miss for an id, endpoint, or token.
	ErrNotFound = errors.New("session not found")

	// ErrBlankName rejects session creation without a player name.
	ErrBlankName = errors.New("player name cannot be blank")

	// ErrBlankColor rejects session creation without a player color.
	ErrBlankColor = errors.New("player color cannot be blank")

	// ErrBlankMapID rejects a map change to an empty map id.
	ErrBlankMapID = errors.New("map id cannot be blank")
)

// Registry is the concurrent store of all connected sessions. Every
// method is safe for concurrent use and never blocks on network I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*liveSession       // player id -> session
	byTCP    map[string]string             // tcp endpoint -> player id
	byUDP    map[string]string             // udp endpoint -> player id
	byToken  map[string]string             // token -> player id
	byMap    map[string]map[string]struct{} // map id -> player ids

	now func() time.Time // injectable clock for tests

	log *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*liveSession),
		byTCP:    make(map[string]string),
		byUDP:    make(map[string]string),
		byToken:  make(map[string]string),
		byMap:    make(map[string]map[string]struct{}),
		now:      time.Now,
		log:      log,
	}
}

// CreateSession allocates a player id and session token, placing the
// session on the default map. No endpoint is bound yet; the caller
// binds the TCP endpoint once login completes.
func (r *Registry) CreateSession(name, color string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	color = strings.TrimSpace(color)
	if name == "" {
		return Snapshot{}, ErrBlankName
	}
	if color == "" {
		return Snapshot{}, ErrBlankColor
	}

	x, y := randomSpawnPosition()
	now := r.now()
	s := &liveSession{
		player: Player{
			ID:    uuid.NewString(),
			Name:  name,
			Color: color,
			X:     x,
			Y:     y,
			MapID: DefaultMapID,
		},
		token:   uuid.NewString(),
		lastTCP: now,
		lastUDP: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.player.ID] = s
	r.byToken[s.token] = s.player.ID
	r.addToMapLocked(s.player.ID, s.player.MapID)

	r.log.Info("Session created: %s for player %s", s.player.ID, s.player.Name)
	return s.snapshot(), nil
}

// BindTCP assigns the session's TCP endpoint, replacing any prior
// endpoint of that kind in the reverse index as one atomic step.
func (r *Registry) BindTCP(sessionID, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.tcpAddr != "" {
		delete(r.byTCP, s.tcpAddr)
	}
	s.tcpAddr = addr
	s.lastTCP = r.now()
	r.byTCP[addr] = sessionID
	return nil
}

// BindUDP assigns the session's UDP endpoint, replacing any prior one.
func (r *Registry) BindUDP(sessionID string, addr *net.UDPAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.udpAddr != nil {
		delete(r.byUDP, s.udpAddr.String())
	}
	copied := *addr
	s.udpAddr = &copied
	s.lastUDP = r.now()
	r.byUDP[copied.String()] = sessionID
	return nil
}

// ByID looks up a session by player id.
func (r *Registry) ByID(sessionID string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s.snapshot(), nil
}

// ByTCP looks up a session by its TCP endpoint.
func (r *Registry) ByTCP(addr string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byTCP[addr]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: no session for TCP endpoint %s", ErrNotFound, addr)
	}
	return r.sessions[id].snapshot(), nil
}

// ByUDP looks up a session by its UDP endpoint.
func (r *Registry) ByUDP(addr string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUDP[addr]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: no session for UDP endpoint %s", ErrNotFound, addr)
	}
	return r.sessions[id].snapshot(), nil
}

// ByToken looks up a session by its opaque token. Tokens authenticate
// UDP senders to a session without repeating login data.
func (r *Registry) ByToken(token string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: invalid token", ErrNotFound)
	}
	return r.sessions[id].snapshot(), nil
}

// UpdatePosition sets the player position and stamps UDP activity.
func (r *Registry) UpdatePosition(sessionID string, x, y float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.player.X = x
	s.player.Y = y
	s.lastUDP = r.now()
	return nil
}

// UpdateColor sets the player color.
func (r *Registry) UpdateColor(sessionID, color string) error {
	color = strings.TrimSpace(color)
	if color == "" {
		return ErrBlankColor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.player.Color = color
	return nil
}

// TouchTCP stamps TCP activity for the session.
func (r *Registry) TouchTCP(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.lastTCP = r.now()
	}
}

// TouchUDP stamps UDP activity for the session.
func (r *Registry) TouchUDP(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.lastUDP = r.now()
	}
}

// UpdateMap moves the session between map membership sets and updates
// the player's map id in the same critical section, so no observer can
// see the session in neither or both sets.
func (r *Registry) UpdateMap(sessionID, newMapID string) error {
	newMapID = strings.TrimSpace(newMapID)
	if newMapID == "" {
		return ErrBlankMapID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if s.player.MapID == newMapID {
		return nil
	}

	r.removeFromMapLocked(sessionID, s.player.MapID)
	s.player.MapID = newMapID
	r.addToMapLocked(sessionID, newMapID)

	r.log.Info("Player %s moved to map %s", s.player.Name, newMapID)
	return nil
}

// SessionsInMap returns snapshots of every session on the map.
func (r *Registry) SessionsInMap(mapID string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.byMap[mapID]
	if !ok {
		return nil
	}
	out := make([]Snapshot, 0, len(ids))
	for id := range ids {
		out = append(out, r.sessions[id].snapshot())
	}
	return out
}

// AllSessions returns snapshots of every session.
func (r *Registry) AllSessions() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// AllPlayers returns copies of every connected player.
func (r *Registry) AllPlayers() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.player)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RemoveSession deletes the session from every index atomically.
func (r *Registry) RemoveSession(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	r.removeLocked(s)

	r.log.Info("Session removed: %s (%s)", s.player.ID, s.player.Name)
	return nil
}

// Sweep removes every session idle on both transports longer than the
// timeout and returns snapshots of the evicted sessions so the caller
// can send the usual disconnect notifications.
func (r *Registry) Sweep(timeout time.Duration) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var evicted []Snapshot
	for _, s := range r.sessions {
		if s.isInactive(now, timeout) {
			evicted = append(evicted, s.snapshot())
		}
	}
	for _, snap := range evicted {
		r.removeLocked(r.sessions[snap.Player.ID])
	}
	return evicted
}

func (r *Registry) removeLocked(s *liveSession) {
	r.removeFromMapLocked(s.player.ID, s.player.MapID)
	if s.tcpAddr != "" {
		delete(r.byTCP, s.tcpAddr)
	}
	if s.udpAddr != nil {
		delete(r.byUDP, s.udpAddr.String())
	}
	delete(r.byToken, s.token)
	delete(r.sessions, s.player.ID)
}

func (r *Registry) addToMapLocked(sessionID, mapID string) {
	set, ok := r.byMap[mapID]
	if !ok {
		set = make(map[string]struct{})
		r.byMap[mapID] = set
	}
	set[sessionID] = struct{}{}
}

func (r *Registry) removeFromMapLocked(sessionID, mapID string) {
	set, ok := r.byMap[mapID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.byMap, mapID)
	}
}
