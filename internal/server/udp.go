package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/feandrad/guildmaster-prototype/internal/metrics"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

const maxDatagramSize = 2048

// udpHandler consumes one inbound datagram. Handlers run on the
// receive goroutine and must not block on long work.
type udpHandler func(sender *net.UDPAddr, data []byte)

// UDPService owns the single UDP socket. UDP is connectionless: each
// datagram is interpreted independently and associated to a session
// through the registry, never through socket state.
type UDPService struct {
	addr    string
	handler udpHandler
	log     *logger.Logger
	metrics *metrics.Metrics

	conn    *net.UDPConn
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewUDPService creates the service; Start binds the socket.
func NewUDPService(addr string, handler udpHandler, log *logger.Logger, m *metrics.Metrics) *UDPService {
	return &UDPService{
		addr:    addr,
		handler: handler,
		log:     log,
		metrics: m,
	}
}

// Start binds the socket and launches the receive loop.
func (s *UDPService) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to start UDP service: %w", err)
	}
	s.conn = conn
	s.running.Store(true)
	s.log.Info("UDP service listening on %s", conn.LocalAddr())

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Port returns the bound local port.
func (s *UDPService) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *UDPService) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, sender, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("UDP receive error: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.metrics.UDPPackets.Inc()
		s.handler(sender, data)
	}
}

// SendPacket sends one best-effort datagram. Failures are logged and
// never retried; UDP has no delivery guarantee by design.
func (s *UDPService) SendPacket(target *net.UDPAddr, message string) {
	if _, err := s.conn.WriteToUDP([]byte(message), target); err != nil {
		s.log.Warn("Failed to send UDP packet to %s: %v", target, err)
	}
}

// Stop closes the socket and joins the receive loop.
func (s *UDPService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("Stopping UDP service...")
	s.conn.Close()
	s.wg.Wait()
	s.log.Info("UDP service stopped")
}
