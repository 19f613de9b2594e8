package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feandrad/guildmaster-prototype/internal/metrics"
	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

const stopTimeout = 5 * time.Second

// tcpHandler consumes lines and lifecycle events from the TCP service.
// The remote address identifies the connection in every callback.
type tcpHandler interface {
	HandleLine(remoteAddr, line string)
	HandleDisconnect(remoteAddr string)
}

// clientConn wraps one accepted connection. The write mutex serializes
// handler replies and broadcaster writes to the same socket.
type clientConn struct {
	conn net.Conn
	w    *bufio.Writer
	mu   sync.Mutex
}

// TCPService accepts control connections and runs one line-oriented
// read loop per connection. It owns the connection table; session
// state lives in the registry, not here.
type TCPService struct {
	addr    string
	handler tcpHandler
	log     *logger.Logger
	metrics *metrics.Metrics

	listener net.Listener
	running  atomic.Bool

	mu    sync.RWMutex
	conns map[string]*clientConn

	wg sync.WaitGroup
}

// NewTCPService creates the service; Start binds the listener.
func NewTCPService(addr string, handler tcpHandler, log *logger.Logger, m *metrics.Metrics) *TCPService {
	return &TCPService{
		addr:    addr,
		handler: handler,
		log:     log,
		metrics: m,
		conns:   make(map[string]*clientConn),
	}
}

// Start binds the listening socket and launches the accept loop. A
// bind failure is returned to the caller and nothing is left running.
func (s *TCPService) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP service: %w", err)
	}
	s.listener = listener
	s.running.Store(true)
	s.log.Info("TCP service listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (s *TCPService) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TCPService) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.log.Error("Failed to accept connection: %v", err)
				continue
			}
			return
		}
		s.addConn(conn)
	}
}

func (s *TCPService) addConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	c := &clientConn{conn: conn, w: bufio.NewWriter(conn)}

	s.mu.Lock()
	s.conns[remoteAddr] = c
	s.metrics.TCPConnections.Set(float64(len(s.conns)))
	s.mu.Unlock()

	s.log.Info("New TCP client connected: %s", remoteAddr)

	s.wg.Add(1)
	go s.readLoop(c, remoteAddr)
}

func (s *TCPService) readLoop(c *clientConn, remoteAddr string) {
	defer s.wg.Done()
	defer func() {
		s.removeConn(remoteAddr)
		c.conn.Close()
		s.handler.HandleDisconnect(remoteAddr)
		s.log.Info("TCP client disconnected: %s", remoteAddr)
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for scanner.Scan() {
		if !s.running.Load() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.metrics.TCPCommands.Inc()
		s.handler.HandleLine(remoteAddr, line)
	}

	if err := scanner.Err(); err != nil && s.running.Load() {
		s.log.Warn("Read error on %s: %v", remoteAddr, err)
	}
}

func (s *TCPService) removeConn(remoteAddr string) {
	s.mu.Lock()
	delete(s.conns, remoteAddr)
	s.metrics.TCPConnections.Set(float64(len(s.conns)))
	s.mu.Unlock()
}

// SendMessage writes one newline-terminated message to the connection
// for remoteAddr. An unknown address is a silent no-op: broadcasts
// race with disconnects by design.
func (s *TCPService) SendMessage(remoteAddr, message string) {
	s.mu.RLock()
	c := s.conns[remoteAddr]
	s.mu.RUnlock()
	if c == nil {
		return
	}

	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.WriteString(message); err != nil {
		s.log.Debug("Failed to write to %s: %v", remoteAddr, err)
		return
	}
	if err := c.w.Flush(); err != nil {
		s.log.Debug("Failed to flush to %s: %v", remoteAddr, err)
	}
}

// CloseConnection closes the connection for remoteAddr, if any. The
// connection's read loop observes the close and performs its normal
// disconnect cleanup.
func (s *TCPService) CloseConnection(remoteAddr string) {
	s.mu.RLock()
	c := s.conns[remoteAddr]
	s.mu.RUnlock()
	if c != nil {
		c.conn.Close()
	}
}

// Stop closes the listener and every open connection, then waits for
// the loops to drain, bounded by the shutdown timeout.
func (s *TCPService) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("Stopping TCP service...")

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("TCP service stopped")
	case <-time.After(stopTimeout):
		s.log.Warn("TCP service stop timed out with loops still running")
	}
}
