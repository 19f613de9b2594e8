package client

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/feandrad/guildmaster-prototype/internal/protocol"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

// Client is the reference command-line client: a TCP control
// connection plus a UDP endpoint registered with the session token.
type Client struct {
	serverAddr string
	name       string
	color      string

	conn    net.Conn
	udpConn *net.UDPConn
	display *Display
	log     *logger.Logger
	running atomic.Bool

	playerID string
	token    string
	mapID    string
	x, y     float32
}

// NewClient creates a client for the given server address.
func NewClient(serverAddr, name, color string, log *logger.Logger) *Client {
	return &Client{
		serverAddr: serverAddr,
		name:       name,
		color:      color,
		display:    NewDisplay(),
		log:        log,
	}
}

// Start connects, performs the login handshake, and runs the
// interactive loop until the user quits or the server disconnects.
func (c *Client) Start() error {
	c.display.PrintBanner()

	conn, err := net.Dial("tcp", c.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.serverAddr, err)
	}
	c.conn = conn
	c.running.Store(true)
	c.display.PrintServerStatus("Connected to " + c.serverAddr)

	c.sendTCP(protocol.Encode(protocol.KindConnect, protocol.ConnectPayload{
		Name:  c.name,
		Color: c.color,
	}))

	go c.readLoop()
	c.inputLoop()
	return nil
}

// Stop closes both channels.
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.udpConn != nil {
		c.udpConn.Close()
	}
}

func (c *Client) sendTCP(message string) {
	if _, err := c.conn.Write([]byte(message)); err != nil {
		c.log.Error("Failed to send: %v", err)
	}
}

func (c *Client) sendUDP(message string) {
	if c.udpConn == nil {
		c.display.PrintWarning("UDP channel not ready yet")
		return
	}
	if _, err := c.udpConn.Write([]byte(message)); err != nil {
		c.log.Error("Failed to send UDP: %v", err)
	}
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Text())
		if err != nil {
			continue
		}
		c.handleServerMessage(msg)
	}
	if c.running.Load() {
		c.display.PrintServerStatus("Connection closed by server")
		c.Stop()
		os.Exit(0)
	}
}

func (c *Client) handleServerMessage(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindConfig:
		var cfg protocol.ConfigPayload
		if err := msg.Unmarshal(&cfg); err != nil {
			return
		}
		if cfg.Token != "" {
			c.playerID = cfg.ID
			c.token = cfg.Token
			c.mapID = cfg.MapID
			c.display.PrintConnection(c.name, c.playerID)
			c.registerUDP(cfg.UDPPort)
		}
	case protocol.KindChat:
		var chat protocol.ChatPayload
		if err := msg.Unmarshal(&chat); err != nil {
			return
		}
		if chat.PlayerID != c.playerID {
			c.display.PrintChat(chat.PlayerName, chat.Text)
		}
	case protocol.KindMap:
		var m protocol.MapPayload
		if err := msg.Unmarshal(&m); err != nil {
			return
		}
		c.display.PrintMapChange(m.MapID, len(m.PlayerIDs))
	case protocol.KindPlayers:
		var infos []protocol.PlayerInfo
		if err := msg.Unmarshal(&infos); err != nil {
			return
		}
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		c.display.PrintPlayers(names)
	case protocol.KindError:
		c.display.PrintWarning(string(msg.Payload))
	}
}

// registerUDP opens the UDP channel and binds it to the session.
func (c *Client) registerUDP(port int) {
	host, _, err := net.SplitHostPort(c.serverAddr)
	if err != nil {
		c.log.Error("Bad server address: %v", err)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.log.Error("Failed to resolve UDP address: %v", err)
		return
	}
	udpConn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		c.log.Error("Failed to open UDP channel: %v", err)
		return
	}
	c.udpConn = udpConn

	go c.udpReadLoop()
	c.sendUDP(protocol.Encode(protocol.KindUDPRegister, protocol.UDPRegisterPayload{Token: c.token}))
}

func (c *Client) udpReadLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := c.udpConn.Read(buf)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(string(buf[:n]))
		if err != nil {
			continue
		}
		switch msg.Kind {
		case protocol.KindUDPRegistered:
			c.display.PrintServerStatus("UDP channel registered")
		case protocol.KindPos:
			var pos protocol.PosPayload
			if err := msg.Unmarshal(&pos); err != nil {
				continue
			}
			if pos.PlayerID == c.playerID {
				c.x, c.y = pos.X, pos.Y
			}
		}
	}
}

func (c *Client) inputLoop() {
	c.display.PrintHelp()

	scanner := bufio.NewScanner(os.Stdin)
	for c.running.Load() && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			c.sendTCP(protocol.Encode(protocol.KindChat, protocol.ChatPayload{Text: line}))
			continue
		}

		command, arg, _ := strings.Cut(line[1:], " ")
		switch command {
		case "move":
			c.handleMove(arg)
		case "map":
			mapID := strings.TrimSpace(arg)
			if mapID == "" {
				c.display.PrintWarning("Usage: /map <mapId>")
				continue
			}
			c.sendTCP(protocol.Encode(protocol.KindMap, protocol.MapPayload{MapID: mapID}))
			c.mapID = mapID
		case "quit":
			c.Stop()
			return
		case "help":
			c.display.PrintHelp()
		default:
			c.display.PrintWarning("Unknown command: /" + command)
		}
	}
}

func (c *Client) handleMove(arg string) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		c.display.PrintWarning("Usage: /move <x> <y>")
		return
	}
	x, errX := strconv.ParseFloat(fields[0], 32)
	y, errY := strconv.ParseFloat(fields[1], 32)
	if errX != nil || errY != nil {
		c.display.PrintWarning("Coordinates must be numbers")
		return
	}

	c.x, c.y = float32(x), float32(y)
	c.sendUDP(protocol.Encode(protocol.KindPos, protocol.PosPayload{
		X:     c.x,
		Y:     c.y,
		MapID: c.mapID,
		Token: c.token,
	}))
}
