// Package client implements the reference command-line client.
package client

import (
	"time"

	"github.com/fatih/color"
)

// Display renders server events to the terminal with per-event colors.
type Display struct {
	serverColor  *color.Color
	connectColor *color.Color
	chatColor    *color.Color
	systemColor  *color.Color
	warningColor *color.Color
	infoColor    *color.Color
}

// NewDisplay creates a new display instance with configured colors
func NewDisplay() *Display {
	return &Display{
		serverColor:  color.New(color.FgCyan, color.Bold),
		connectColor: color.New(color.FgGreen, color.Bold),
		chatColor:    color.New(color.FgWhite),
		systemColor:  color.New(color.FgYellow, color.Bold),
		warningColor: color.New(color.FgYellow),
		infoColor:    color.New(color.FgWhite),
	}
}

// PrintBanner displays the client banner
func (d *Display) PrintBanner() {
	banner := `
╔═══════════════════════════════════════╗
║          GUILDMASTER CLIENT           ║
╚═══════════════════════════════════════╝
`
	d.systemColor.Println(banner)
}

// PrintServerStatus displays server connection status
func (d *Display) PrintServerStatus(message string) {
	timestamp := time.Now().Format("15:04:05")
	d.serverColor.Printf("[%s] [SERVER] %s\n", timestamp, message)
}

// PrintConnection displays connection events
func (d *Display) PrintConnection(playerName, playerID string) {
	timestamp := time.Now().Format("15:04:05")
	d.connectColor.Printf("[%s] [CONNECTED] %s (id: %s)\n", timestamp, playerName, playerID)
}

// PrintChat displays a chat message from another player
func (d *Display) PrintChat(playerName, text string) {
	timestamp := time.Now().Format("15:04:05")
	d.chatColor.Printf("[%s] <%s> %s\n", timestamp, playerName, text)
}

// PrintMapChange displays a map membership update
func (d *Display) PrintMapChange(mapID string, playerCount int) {
	timestamp := time.Now().Format("15:04:05")
	d.systemColor.Printf("[%s] [MAP] %s (%d players)\n", timestamp, mapID, playerCount)
}

// PrintPlayers displays the current player list
func (d *Display) PrintPlayers(names []string) {
	timestamp := time.Now().Format("15:04:05")
	d.infoColor.Printf("[%s] [PLAYERS] %d online: %v\n", timestamp, len(names), names)
}

// PrintWarning displays a warning message
func (d *Display) PrintWarning(message string) {
	timestamp := time.Now().Format("15:04:05")
	d.warningColor.Printf("[%s] [WARNING] %s\n", timestamp, message)
}

// PrintHelp displays the available commands
func (d *Display) PrintHelp() {
	d.infoColor.Println("Commands:")
	d.infoColor.Println("  /move <x> <y>   send a position update")
	d.infoColor.Println("  /map <mapId>    change map")
	d.infoColor.Println("  /quit           disconnect and exit")
	d.infoColor.Println("  anything else is sent as chat")
}
