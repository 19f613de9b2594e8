package cli

import (
	"strings"
	"testing"

	"github.com/feandrad/guildmaster-prototype/internal/session"
)

type fakeServer struct {
	players   []session.Player
	broadcast []string
}

func (f *fakeServer) GetConnectedPlayers() []session.Player { return f.players }
func (f *fakeServer) BroadcastSystemMessage(text string)    { f.broadcast = append(f.broadcast, text) }

func runConsole(t *testing.T, server *fakeServer, input string) string {
	t.Helper()
	var out strings.Builder
	console := NewConsole(server, strings.NewReader(input), &out)
	if err := console.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestPlayersCommand(t *testing.T) {
	server := &fakeServer{players: []session.Player{
		{ID: "id-1", Name: "alice", MapID: "default", X: 400, Y: 300},
	}}

	out := runConsole(t, server, "players\nexit\n")

	if !strings.Contains(out, "1 player(s) connected") {
		t.Errorf("output missing player count: %q", out)
	}
	if !strings.Contains(out, "alice") {
		t.Errorf("output missing player name: %q", out)
	}
}

func TestPlayersCommandEmpty(t *testing.T) {
	out := runConsole(t, &fakeServer{}, "players\nexit\n")

	if !strings.Contains(out, "No players connected") {
		t.Errorf("output = %q", out)
	}
}

func TestChatCommandBroadcasts(t *testing.T) {
	server := &fakeServer{}

	runConsole(t, server, "chat server restarting soon\nexit\n")

	if len(server.broadcast) != 1 || server.broadcast[0] != "server restarting soon" {
		t.Errorf("broadcast = %v", server.broadcast)
	}
}

func TestChatCommandRequiresText(t *testing.T) {
	server := &fakeServer{}

	out := runConsole(t, server, "chat\nexit\n")

	if len(server.broadcast) != 0 {
		t.Errorf("empty chat broadcast: %v", server.broadcast)
	}
	if !strings.Contains(out, "Usage: chat") {
		t.Errorf("output = %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	out := runConsole(t, &fakeServer{}, "frobnicate\nexit\n")

	if !strings.Contains(out, "Unknown command: frobnicate") {
		t.Errorf("output = %q", out)
	}
}

func TestEOFEndsConsole(t *testing.T) {
	if err := NewConsole(&fakeServer{}, strings.NewReader(""), &strings.Builder{}).Run(); err != nil {
		t.Errorf("Run at EOF: %v", err)
	}
}
