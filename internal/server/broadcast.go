package server

import (
	"github.com/feandrad/guildmaster-prototype/internal/metrics"
	"github.com/feandrad/guildmaster-prototype/internal/protocol"
	"github.com/feandrad/guildmaster-prototype/internal/session"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

// messageSender delivers an encoded line to a live TCP endpoint.
type messageSender interface {
	SendMessage(remoteAddr, message string)
}

// Broadcaster fans messages out to interested sessions over their TCP
// connections. Recipients are resolved from the registry at call time;
// a recipient without a bound endpoint or live connection is silently
// skipped — broadcast is best-effort, not transactional.
type Broadcaster struct {
	registry *session.Registry
	sender   messageSender
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster writing through sender.
func NewBroadcaster(registry *session.Registry, sender messageSender, log *logger.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		sender:   sender,
		log:      log,
		metrics:  m,
	}
}

// ToAll sends the message to every connected session.
func (b *Broadcaster) ToAll(message string) {
	b.deliver(b.registry.AllSessions(), message)
}

// ToMap sends the message to every session on the map.
func (b *Broadcaster) ToMap(mapID, message string) {
	b.deliver(b.registry.SessionsInMap(mapID), message)
}

// ToPlayer sends the message to one player.
func (b *Broadcaster) ToPlayer(playerID, message string) {
	snap, err := b.registry.ByID(playerID)
	if err != nil {
		b.log.Warn("Cannot broadcast to player %s: %v", playerID, err)
		return
	}
	b.deliver([]session.Snapshot{snap}, message)
}

// PlayersListFor builds the authoritative PLAYERS message for the map
// and sends it to every session on that map.
func (b *Broadcaster) PlayersListFor(mapID string) {
	sessions := b.registry.SessionsInMap(mapID)
	infos := make([]protocol.PlayerInfo, 0, len(sessions))
	for _, snap := range sessions {
		infos = append(infos, protocol.PlayerInfo{
			ID:    snap.Player.ID,
			Name:  snap.Player.Name,
			Color: snap.Player.Color,
			X:     snap.Player.X,
			Y:     snap.Player.Y,
			MapID: snap.Player.MapID,
		})
	}
	b.deliver(sessions, protocol.PlayersMessage(infos))
}

// SystemMessage sends a system-attributed chat line to every session.
func (b *Broadcaster) SystemMessage(systemID, systemName, text string) {
	b.ToAll(protocol.Encode(protocol.KindChat, protocol.ChatPayload{
		PlayerID:   systemID,
		PlayerName: systemName,
		Text:       text,
	}))
}

func (b *Broadcaster) deliver(sessions []session.Snapshot, message string) {
	for _, snap := range sessions {
		if snap.TCPAddr == "" {
			continue
		}
		b.sender.SendMessage(snap.TCPAddr, message)
		b.metrics.RelayedMessages.WithLabelValues("tcp").Inc()
	}
}
