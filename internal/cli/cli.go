// Package cli implements the interactive admin console attached to a
// running server process.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/feandrad/guildmaster-prototype/internal/session"
)

// Server is the surface the console administers.
type Server interface {
	GetConnectedPlayers() []session.Player
	BroadcastSystemMessage(text string)
}

// Console reads admin commands from in and writes results to out.
type Console struct {
	server Server
	in     io.Reader
	out    io.Writer

	promptColor *color.Color
	infoColor   *color.Color
	errorColor  *color.Color
	playerColor *color.Color
}

// NewConsole creates a console bound to the given streams.
func NewConsole(server Server, in io.Reader, out io.Writer) *Console {
	return &Console{
		server:      server,
		in:          in,
		out:         out,
		promptColor: color.New(color.FgCyan, color.Bold),
		infoColor:   color.New(color.FgWhite),
		errorColor:  color.New(color.FgRed),
		playerColor: color.New(color.FgGreen),
	}
}

// Run processes commands until EOF or an exit command. It returns nil
// on a clean exit so the caller can begin shutdown.
func (c *Console) Run() error {
	c.infoColor.Fprintln(c.out, "Admin console ready. Type 'help' for commands.")

	scanner := bufio.NewScanner(c.in)
	for {
		c.promptColor.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		command, arg, _ := strings.Cut(line, " ")

		switch strings.ToLower(command) {
		case "players":
			c.printPlayers()
		case "chat":
			c.sendChat(strings.TrimSpace(arg))
		case "help":
			c.printHelp()
		case "exit", "quit":
			c.infoColor.Fprintln(c.out, "Shutting down...")
			return nil
		default:
			c.errorColor.Fprintf(c.out, "Unknown command: %s\n", command)
		}
	}
}

func (c *Console) printPlayers() {
	players := c.server.GetConnectedPlayers()
	if len(players) == 0 {
		c.infoColor.Fprintln(c.out, "No players connected")
		return
	}

	c.infoColor.Fprintf(c.out, "%d player(s) connected:\n", len(players))
	for _, p := range players {
		c.playerColor.Fprintf(c.out, "  %s  %-16s  map=%s  pos=(%.0f, %.0f)\n",
			p.ID, p.Name, p.MapID, p.X, p.Y)
	}
}

func (c *Console) sendChat(text string) {
	if text == "" {
		c.errorColor.Fprintln(c.out, "Usage: chat <message>")
		return
	}
	c.server.BroadcastSystemMessage(text)
	c.infoColor.Fprintln(c.out, "Message sent to all players")
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "Available commands:")
	fmt.Fprintln(c.out, "  players         list connected players")
	fmt.Fprintln(c.out, "  chat <message>  broadcast a system message")
	fmt.Fprintln(c.out, "  help            show this help")
	fmt.Fprintln(c.out, "  exit            stop the server")
}
