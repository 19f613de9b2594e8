// Guildmaster relay server - Main Entry Point
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/feandrad/guildmaster-prototype/internal/cli"
	"github.com/feandrad/guildmaster-prototype/internal/config"
	"github.com/feandrad/guildmaster-prototype/internal/metrics"
	"github.com/feandrad/guildmaster-prototype/internal/server"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

var (
	version   = "1.0.0"
	buildTime = "dev"

	configPath   = flag.String("config", "", "Config file path (optional)")
	tcpPort      = flag.Int("tcp-port", 0, "TCP control port (overrides config)")
	udpPort      = flag.Int("udp-port", 0, "UDP update port (overrides config)")
	bindAddress  = flag.String("bind", "", "Bind address (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	logFile      = flag.String("log-file", "", "Log file path (optional)")
	identityPath = flag.String("identity", "system.json", "System identity file path")
	noConsole    = flag.Bool("no-console", false, "Disable the interactive admin console")
	help         = flag.Bool("help", false, "Show help information")
	ver          = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *ver {
		showVersion()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Guildmaster server v%s", version)

	identity, err := config.LoadOrCreateIdentity(*identityPath)
	if err != nil {
		log.Fatal("Failed to load system identity: %v", err)
	}
	log.Info("System identity: %s (%s)", identity.Name, identity.ID)

	m := metrics.NewMetrics()
	gameServer := server.NewGameServer(cfg, identity, log, m)
	if err := gameServer.Start(); err != nil {
		log.Fatal("Server failed to start: %v", err)
	}

	if cfg.Metrics.Enabled {
		startMetricsEndpoint(cfg, m, log)
	}

	waitForShutdown(gameServer, log)
	gameServer.Stop()
}

// loadConfig builds the effective configuration: file values when a
// config path is given, then flag overrides, then validation.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *tcpPort != 0 {
		cfg.Server.TCPPort = *tcpPort
	}
	if *udpPort != 0 {
		cfg.Server.UDPPort = *udpPort
	}
	if *bindAddress != "" {
		cfg.Server.BindAddress = *bindAddress
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startMetricsEndpoint serves the Prometheus scrape endpoint on its own
// port. A failure here is logged but never takes the game server down.
func startMetricsEndpoint(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Metrics.Port)
	go func() {
		log.Info("Metrics endpoint listening on http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("Metrics endpoint failed: %v", err)
		}
	}()
}

// waitForShutdown blocks until an interrupt signal arrives or the admin
// console requests an exit.
func waitForShutdown(gameServer *server.GameServer, log *logger.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	consoleDone := make(chan struct{})
	if !*noConsole {
		go func() {
			console := cli.NewConsole(gameServer, os.Stdin, os.Stdout)
			if err := console.Run(); err != nil {
				log.Warn("Admin console error: %v", err)
			}
			close(consoleDone)
		}()
	}

	select {
	case sig := <-signals:
		log.Info("Received %s, stopping server...", sig)
	case <-consoleDone:
	}
}

// showHelp displays help information
func showHelp() {
	fmt.Printf(`Guildmaster Server v%s

USAGE:
    %s [OPTIONS]

OPTIONS:
    -config string      Config file path (optional)
    -tcp-port int       TCP control port (default 9999)
    -udp-port int       UDP update port (default 9998)
    -bind string        Bind address (default "0.0.0.0")
    -log-level string   Set log level (DEBUG, INFO, WARN, ERROR) (default "INFO")
    -log-file string    Set log file path (optional)
    -identity string    System identity file path (default "system.json")
    -no-console         Disable the interactive admin console
    -help               Show this help message
    -version            Show version information

EXAMPLES:
    # Start server with default settings
    %s

    # Start on specific ports
    %s -tcp-port 9000 -udp-port 9001

    # Start with a config file and debug logging
    %s -config config.yaml -log-level DEBUG

SERVER FEATURES:
    - TCP control channel for login, chat and map changes
    - UDP relay channel for low-latency position and action updates
    - Token-authenticated UDP endpoint registration
    - Map-scoped message broadcasting
    - Automatic eviction of inactive sessions
    - Interactive admin console (players, chat)
    - Prometheus metrics endpoint (optional)
`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

// showVersion displays version information
func showVersion() {
	fmt.Printf(`Guildmaster Server
Version: %s
Build Time: %s
`, version, buildTime)
}
