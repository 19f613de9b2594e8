// Package protocol defines the wire message vocabulary shared by the
// TCP and UDP transports. Both transports speak newline-terminated
// `KEYWORD payload` lines where payload is a single JSON object; pure
// keepalive keywords like PING carry no payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one wire message keyword. Decode produces a Kind so
// dispatchers can switch exhaustively instead of prefix-matching raw
// lines.
type Kind string

const (
	// Client commands (TCP unless noted)
	KindConnect     Kind = "CONNECT"
	KindConfig      Kind = "CONFIG"
	KindMap         Kind = "MAP"
	KindChat        Kind = "CHAT"
	KindPing        Kind = "PING"     // TCP and UDP
	KindPos         Kind = "POS"      // UDP
	KindAction      Kind = "ACTION"   // UDP
	KindUDPRegister Kind = "UDP_REGISTER"

	// Server messages
	KindPlayers       Kind = "PLAYERS"
	KindPong          Kind = "PONG"
	KindError         Kind = "ERROR"
	KindUDPRegistered Kind = "UDP_REGISTERED"
)

var (
	// ErrUnknownKeyword reports a keyword outside the protocol
	// vocabulary. Callers log and drop the message; it is never fatal.
	ErrUnknownKeyword = errors.New("unknown message keyword")

	// ErrEmptyMessage reports a blank line.
	ErrEmptyMessage = errors.New("empty message")
)

var keywords = map[string]Kind{
	"CONNECT":        KindConnect,
	"CONFIG":         KindConfig,
	"MAP":            KindMap,
	"CHAT":           KindChat,
	"PING":           KindPing,
	"POS":            KindPos,
	"ACTION":         KindAction,
	"UDP_REGISTER":   KindUDPRegister,
	"PLAYERS":        KindPlayers,
	"PONG":           KindPong,
	"ERROR":          KindError,
	"UDP_REGISTERED": KindUDPRegistered,
}

// Message is one decoded wire message: its kind plus the raw JSON
// payload, which handlers bind to a typed struct with Unmarshal.
type Message struct {
	Kind    Kind
	Payload json.RawMessage
}

// Decode parses one wire line into a Message. The line is stripped of
// surrounding whitespace and newlines before parsing; payload syntax
// is not validated here, only split off the keyword.
func Decode(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, ErrEmptyMessage
	}

	keyword, payload, _ := strings.Cut(line, " ")
	kind, ok := keywords[keyword]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownKeyword, keyword)
	}

	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Message{Kind: kind}, nil
	}
	return Message{Kind: kind, Payload: json.RawMessage(payload)}, nil
}

// Unmarshal binds the message payload to v.
func (m Message) Unmarshal(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Kind)
	}
	return json.Unmarshal(m.Payload, v)
}

// Encode renders a message with exactly one trailing newline. Encoding
// is total: the payload structs below marshal unconditionally, so a
// marshal failure would be a programming error and yields a bare
// keyword line rather than a panic.
func Encode(kind Kind, payload interface{}) string {
	if payload == nil {
		return string(kind) + "\n"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return string(kind) + "\n"
	}
	return string(kind) + " " + string(b) + "\n"
}

// EncodeError renders an ERROR line with a plain-text reason.
func EncodeError(reason string) string {
	return string(KindError) + " " + strings.TrimSpace(reason) + "\n"
}

// ConnectPayload is the CONNECT login request.
type ConnectPayload struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ConfigPayload serves both directions: the client sends partial
// updates (color, map), the server answers CONNECT with the full
// session configuration including the UDP port and session token.
type ConfigPayload struct {
	ID      string `json:"id"`
	UDPPort int    `json:"udpPort,omitempty"`
	Color   string `json:"color,omitempty"`
	MapID   string `json:"mapId,omitempty"`
	Token   string `json:"token,omitempty"`
}

// MapPayload announces map membership: a map change request from the
// client, or the authoritative member list from the server.
type MapPayload struct {
	MapID     string   `json:"mapId"`
	PlayerIDs []string `json:"playerIds"`
}

// ChatPayload carries one chat line scoped to the sender's map.
type ChatPayload struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
}

// PosPayload is the UDP position update. Clients authenticate it with
// their session token; the server fills PlayerID when relaying.
type PosPayload struct {
	PlayerID string  `json:"playerId,omitempty"`
	X        float32 `json:"x"`
	Y        float32 `json:"y"`
	MapID    string  `json:"mapId"`
	Token    string  `json:"token,omitempty"`
}

// ActionPayload is an opaque game action relayed to the sender's map
// peers. The server fills PlayerID and strips the token when relaying.
type ActionPayload struct {
	PlayerID string            `json:"playerId,omitempty"`
	Action   string            `json:"action"`
	Data     map[string]string `json:"data,omitempty"`
	Token    string            `json:"token,omitempty"`
}

// UDPRegisterPayload binds the sender's UDP endpoint to the session
// owning the token.
type UDPRegisterPayload struct {
	Token string `json:"token"`
}

// PlayerInfo is one entry of a PLAYERS list.
type PlayerInfo struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	MapID string  `json:"mapId"`
}

// PlayersMessage renders the authoritative player list for broadcast.
func PlayersMessage(players []PlayerInfo) string {
	if players == nil {
		players = []PlayerInfo{}
	}
	return Encode(KindPlayers, players)
}

// PongMessage renders the keepalive reply.
func PongMessage() string {
	return Encode(KindPong, nil)
}

// UDPRegisteredMessage renders the UDP registration acknowledgement.
func UDPRegisteredMessage() string {
	return Encode(KindUDPRegistered, nil)
}
