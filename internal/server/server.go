// Package server implements the relay engine: the dual-transport
// network services, the command dispatcher, and the broadcaster that
// fans state out to connected clients.
package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/feandrad/guildmaster-prototype/internal/config"
	"github.com/feandrad/guildmaster-prototype/internal/metrics"
	"github.com/feandrad/guildmaster-prototype/internal/protocol"
	"github.com/feandrad/guildmaster-prototype/internal/session"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

const maxChatLength = 256

// GameServer wires the session registry, both transport services, the
// broadcaster, and the inactivity reaper. The registry is the only
// shared mutable state; every other component reaches player state
// through it.
type GameServer struct {
	registry    *session.Registry
	tcp         *TCPService
	udp         *UDPService
	broadcaster *Broadcaster
	reaper      *session.Reaper
	identity    config.SystemIdentity
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// NewGameServer assembles a server from configuration. Nothing is
// bound until Start.
func NewGameServer(cfg *config.Config, identity config.SystemIdentity, log *logger.Logger, m *metrics.Metrics) *GameServer {
	s := &GameServer{
		registry: session.NewRegistry(log.Named("session")),
		identity: identity,
		log:      log.Named("server"),
		metrics:  m,
	}

	tcpAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.TCPPort)
	udpAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)
	s.tcp = NewTCPService(tcpAddr, s, log.Named("tcp"), m)
	s.udp = NewUDPService(udpAddr, s.handleUDPPacket, log.Named("udp"), m)
	s.broadcaster = NewBroadcaster(s.registry, s.tcp, log.Named("broadcast"), m)
	s.reaper = session.NewReaper(s.registry, cfg.Session.SweepInterval(), cfg.Session.Timeout(),
		s.onSessionEvicted, log.Named("reaper"))
	return s
}

// Start brings up both transports and the reaper. A bind failure on
// either transport aborts startup with nothing left running. UDP binds
// first because the login reply advertises its actual port.
func (s *GameServer) Start() error {
	if err := s.udp.Start(); err != nil {
		return err
	}
	if err := s.tcp.Start(); err != nil {
		s.udp.Stop()
		return err
	}
	s.reaper.Start()
	s.log.Info("Server started on TCP %s and UDP port %d", s.tcp.Addr(), s.udp.Port())
	return nil
}

// Stop shuts down the transports first, then the reaper.
func (s *GameServer) Stop() {
	s.log.Info("Stopping server...")
	s.tcp.Stop()
	s.udp.Stop()
	s.reaper.Stop()
	s.log.Info("Server stopped")
}

// TCPAddr returns the bound TCP listener address.
func (s *GameServer) TCPAddr() net.Addr {
	return s.tcp.Addr()
}

// UDPPort returns the bound UDP port advertised to clients.
func (s *GameServer) UDPPort() int {
	return s.udp.Port()
}

// GetConnectedPlayers returns a copy of every connected player.
func (s *GameServer) GetConnectedPlayers() []session.Player {
	return s.registry.AllPlayers()
}

// BroadcastSystemMessage sends a system-attributed chat line to every
// connected client.
func (s *GameServer) BroadcastSystemMessage(text string) {
	s.broadcaster.SystemMessage(s.identity.ID, s.identity.Name, text)
}

// HandleLine dispatches one TCP command line. Unknown keywords are
// logged and dropped; malformed payloads earn the client an ERROR
// reply. Neither is ever fatal to the connection.
func (s *GameServer) HandleLine(remoteAddr, line string) {
	msg, err := protocol.Decode(line)
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyMessage) {
			return
		}
		s.metrics.ProtocolErrors.Inc()
		s.log.Warn("Dropping TCP message from %s: %v", remoteAddr, err)
		return
	}

	switch msg.Kind {
	case protocol.KindConnect:
		s.handleConnect(remoteAddr, msg)
	case protocol.KindConfig:
		s.handleConfig(remoteAddr, msg)
	case protocol.KindMap:
		s.handleMapChange(remoteAddr, msg)
	case protocol.KindChat:
		s.handleChat(remoteAddr, msg)
	case protocol.KindPing:
		s.handleTCPPing(remoteAddr)
	default:
		s.metrics.ProtocolErrors.Inc()
		s.log.Warn("Unexpected %s message on TCP from %s", msg.Kind, remoteAddr)
	}
}

// HandleDisconnect removes the session bound to a closed connection
// and notifies its former map.
func (s *GameServer) HandleDisconnect(remoteAddr string) {
	snap, err := s.registry.ByTCP(remoteAddr)
	if err != nil {
		return // connection never completed login
	}

	if err := s.registry.RemoveSession(snap.Player.ID); err != nil {
		return // already removed, e.g. by the reaper
	}
	s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	s.log.Info("Player %s disconnected", snap.Player.Name)
	s.notifyMembershipChange(snap.Player.MapID)
}

func (s *GameServer) handleConnect(remoteAddr string, msg protocol.Message) {
	var p protocol.ConnectPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.sendError(remoteAddr, "Invalid connect payload")
		return
	}

	// A second CONNECT on the same connection replaces the old session.
	if prev, err := s.registry.ByTCP(remoteAddr); err == nil {
		if err := s.registry.RemoveSession(prev.Player.ID); err == nil {
			s.notifyMembershipChange(prev.Player.MapID)
		}
	}

	snap, err := s.registry.CreateSession(p.Name, p.Color)
	if err != nil {
		s.sendError(remoteAddr, err.Error())
		return
	}
	if err := s.registry.BindTCP(snap.Player.ID, remoteAddr); err != nil {
		s.sendError(remoteAddr, "Failed to bind connection")
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.registry.Count()))

	// The login reply is written before the player-list broadcast, so
	// per-connection ordering guarantees the client sees its own CONFIG
	// first.
	s.tcp.SendMessage(remoteAddr, protocol.Encode(protocol.KindConfig, protocol.ConfigPayload{
		ID:      snap.Player.ID,
		UDPPort: s.udp.Port(),
		Color:   snap.Player.Color,
		MapID:   snap.Player.MapID,
		Token:   snap.Token,
	}))
	s.log.Info("Player %s connected as %s", snap.Player.Name, snap.Player.ID)
	s.broadcaster.PlayersListFor(snap.Player.MapID)
}

func (s *GameServer) handleConfig(remoteAddr string, msg protocol.Message) {
	snap, ok := s.requireSession(remoteAddr)
	if !ok {
		return
	}

	var p protocol.ConfigPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.sendError(remoteAddr, "Invalid config payload")
		return
	}
	s.registry.TouchTCP(snap.Player.ID)

	if p.Color != "" {
		if err := s.registry.UpdateColor(snap.Player.ID, p.Color); err != nil {
			s.sendError(remoteAddr, err.Error())
			return
		}
	}
	if p.MapID != "" && p.MapID != snap.Player.MapID {
		if err := s.registry.UpdateMap(snap.Player.ID, p.MapID); err != nil {
			s.sendError(remoteAddr, err.Error())
			return
		}
		s.notifyMembershipChange(snap.Player.MapID, p.MapID)
	}

	current, err := s.registry.ByID(snap.Player.ID)
	if err != nil {
		s.sendError(remoteAddr, "Session not found")
		return
	}
	s.tcp.SendMessage(remoteAddr, protocol.Encode(protocol.KindConfig, protocol.ConfigPayload{
		ID:    current.Player.ID,
		Color: current.Player.Color,
		MapID: current.Player.MapID,
	}))
}

func (s *GameServer) handleMapChange(remoteAddr string, msg protocol.Message) {
	snap, ok := s.requireSession(remoteAddr)
	if !ok {
		return
	}

	var p protocol.MapPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.sendError(remoteAddr, "Invalid map payload")
		return
	}
	s.registry.TouchTCP(snap.Player.ID)

	if err := s.registry.UpdateMap(snap.Player.ID, p.MapID); err != nil {
		s.sendError(remoteAddr, err.Error())
		return
	}
	s.notifyMembershipChange(snap.Player.MapID, p.MapID)
}

func (s *GameServer) handleChat(remoteAddr string, msg protocol.Message) {
	snap, ok := s.requireSession(remoteAddr)
	if !ok {
		return
	}

	var p protocol.ChatPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.sendError(remoteAddr, "Invalid chat payload")
		return
	}
	s.registry.TouchTCP(snap.Player.ID)

	if p.Text == "" {
		s.sendError(remoteAddr, "Chat message cannot be empty")
		return
	}
	text := p.Text
	if runes := []rune(text); len(runes) > maxChatLength {
		text = string(runes[:maxChatLength]) + "…"
	}

	// Sender identity comes from the session, not the payload.
	s.broadcaster.ToMap(snap.Player.MapID, protocol.Encode(protocol.KindChat, protocol.ChatPayload{
		PlayerID:   snap.Player.ID,
		PlayerName: snap.Player.Name,
		Text:       text,
	}))
}

func (s *GameServer) handleTCPPing(remoteAddr string) {
	snap, ok := s.requireSession(remoteAddr)
	if !ok {
		return
	}
	s.registry.TouchTCP(snap.Player.ID)
	s.tcp.SendMessage(remoteAddr, protocol.PongMessage())
}

// requireSession resolves the session for a non-CONNECT command. Every
// such command requires a prior successful CONNECT on the same
// connection.
func (s *GameServer) requireSession(remoteAddr string) (session.Snapshot, bool) {
	snap, err := s.registry.ByTCP(remoteAddr)
	if err != nil {
		s.sendError(remoteAddr, "Session not found")
		return session.Snapshot{}, false
	}
	return snap, true
}

func (s *GameServer) sendError(remoteAddr, reason string) {
	s.tcp.SendMessage(remoteAddr, protocol.EncodeError(reason))
}

// handleUDPPacket interprets one inbound datagram. Malformed and
// unauthenticated packets are dropped without a reply so senders learn
// nothing about session state.
func (s *GameServer) handleUDPPacket(sender *net.UDPAddr, data []byte) {
	msg, err := protocol.Decode(string(data))
	if err != nil {
		s.metrics.ProtocolErrors.Inc()
		s.log.Debug("Dropping UDP packet from %s: %v", sender, err)
		return
	}

	switch msg.Kind {
	case protocol.KindPing:
		// Reachability probe, no session lookup.
		s.udp.SendPacket(sender, protocol.PongMessage())
	case protocol.KindUDPRegister:
		s.handleUDPRegister(sender, msg)
	case protocol.KindPos:
		s.handlePos(msg)
	case protocol.KindAction:
		s.handleAction(msg)
	default:
		s.metrics.ProtocolErrors.Inc()
		s.log.Debug("Unexpected %s message on UDP from %s", msg.Kind, sender)
	}
}

func (s *GameServer) handleUDPRegister(sender *net.UDPAddr, msg protocol.Message) {
	var p protocol.UDPRegisterPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		return
	}

	snap, err := s.registry.ByToken(p.Token)
	if err != nil {
		s.metrics.UnauthenticatedPackets.Inc()
		s.log.Warn("UDP registration with unknown token from %s", sender)
		return
	}
	if err := s.registry.BindUDP(snap.Player.ID, sender); err != nil {
		s.log.Warn("Failed to bind UDP endpoint for %s: %v", snap.Player.ID, err)
		return
	}
	s.log.Info("UDP endpoint registered for player %s: %s", snap.Player.Name, sender)

	s.udp.SendPacket(sender, protocol.UDPRegisteredMessage())
	// Follow up with the authoritative starting position.
	s.udp.SendPacket(sender, protocol.Encode(protocol.KindPos, protocol.PosPayload{
		PlayerID: snap.Player.ID,
		X:        snap.Player.X,
		Y:        snap.Player.Y,
		MapID:    snap.Player.MapID,
	}))
}

func (s *GameServer) handlePos(msg protocol.Message) {
	var p protocol.PosPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		return
	}

	snap, err := s.registry.ByToken(p.Token)
	if err != nil {
		s.metrics.UnauthenticatedPackets.Inc()
		return
	}
	if err := s.registry.UpdatePosition(snap.Player.ID, p.X, p.Y); err != nil {
		return
	}

	mapID := snap.Player.MapID
	if p.MapID != "" && p.MapID != mapID {
		if err := s.registry.UpdateMap(snap.Player.ID, p.MapID); err == nil {
			s.notifyMembershipChange(mapID, p.MapID)
			mapID = p.MapID
		}
	}

	// Re-encode with the sender's id so peers get attribution and the
	// session token never leaves the server.
	s.relayToMapPeers(mapID, snap.Player.ID, protocol.Encode(protocol.KindPos, protocol.PosPayload{
		PlayerID: snap.Player.ID,
		X:        p.X,
		Y:        p.Y,
		MapID:    mapID,
	}))
}

func (s *GameServer) handleAction(msg protocol.Message) {
	var p protocol.ActionPayload
	if err := msg.Unmarshal(&p); err != nil {
		s.metrics.ProtocolErrors.Inc()
		return
	}

	snap, err := s.registry.ByToken(p.Token)
	if err != nil {
		s.metrics.UnauthenticatedPackets.Inc()
		return
	}
	s.registry.TouchUDP(snap.Player.ID)
	s.relayToMapPeers(snap.Player.MapID, snap.Player.ID, protocol.Encode(protocol.KindAction, protocol.ActionPayload{
		PlayerID: snap.Player.ID,
		Action:   p.Action,
		Data:     p.Data,
	}))
}

// relayToMapPeers forwards the message to every other session on the
// map whose UDP endpoint is registered.
func (s *GameServer) relayToMapPeers(mapID, senderID, message string) {
	for _, peer := range s.registry.SessionsInMap(mapID) {
		if peer.Player.ID == senderID || peer.UDPAddr == nil {
			continue
		}
		s.udp.SendPacket(peer.UDPAddr, message)
		s.metrics.RelayedMessages.WithLabelValues("udp").Inc()
	}
}

// onSessionEvicted handles reaper evictions with the same
// notifications as an explicit disconnect.
func (s *GameServer) onSessionEvicted(snap session.Snapshot) {
	s.metrics.SessionsReaped.Inc()
	s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	s.log.Info("Session %s (%s) evicted for inactivity", snap.Player.ID, snap.Player.Name)
	if snap.TCPAddr != "" {
		s.tcp.CloseConnection(snap.TCPAddr)
	}
	s.notifyMembershipChange(snap.Player.MapID)
}

// notifyMembershipChange broadcasts the authoritative MAP membership
// and PLAYERS list to every affected map.
func (s *GameServer) notifyMembershipChange(mapIDs ...string) {
	seen := make(map[string]struct{}, len(mapIDs))
	for _, mapID := range mapIDs {
		if _, dup := seen[mapID]; dup {
			continue
		}
		seen[mapID] = struct{}{}

		sessions := s.registry.SessionsInMap(mapID)
		ids := make([]string, 0, len(sessions))
		for _, snap := range sessions {
			ids = append(ids, snap.Player.ID)
		}
		s.broadcaster.ToMap(mapID, protocol.Encode(protocol.KindMap, protocol.MapPayload{
			MapID:     mapID,
			PlayerIDs: ids,
		}))
		s.broadcaster.PlayersListFor(mapID)
	}
}
