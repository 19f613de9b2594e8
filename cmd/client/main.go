// Guildmaster reference client - Main Entry Point
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feandrad/guildmaster-prototype/internal/client"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

var (
	version    = "1.0.0"
	serverAddr = flag.String("server", "localhost:9999", "Server address (host:port)")
	name       = flag.String("name", "", "Player name (required)")
	playerCol  = flag.String("color", "blue", "Player color")
	logLevel   = flag.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
)

func main() {
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "A player name is required: -name <name>")
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Guildmaster client v%s", version)

	gameClient := client.NewClient(*serverAddr, *name, *playerCol, log)
	setupGracefulShutdown(gameClient)

	if err := gameClient.Start(); err != nil {
		log.Error("Client failed to start: %v", err)
		os.Exit(1)
	}
}

// setupGracefulShutdown disconnects cleanly on interrupt signals
func setupGracefulShutdown(gameClient *client.Client) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		gameClient.Stop()
		os.Exit(0)
	}()
}
