package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/dev-msp/untitled-voice-assistant/internal/daemon"
)

// maxLineBytes bounds one socket command line
const maxLineBytes = 1 << 20

// SocketServer accepts newline-delimited JSON commands on a Unix
// domain socket and writes one JSON response line per command.
type SocketServer struct {
	path   string
	logger *slog.Logger
	daemon *daemon.Daemon

	listener net.Listener
	wg       sync.WaitGroup
	conns    map[net.Conn]struct{}

	// Statistics
	connections   uint64
	linesReceived uint64
	parseErrors   uint64

	mu sync.RWMutex
}

// SocketStats represents socket server statistics
type SocketStats struct {
	Connections   uint64 `json:"connections"`
	LinesReceived uint64 `json:"lines_received"`
	ParseErrors   uint64 `json:"parse_errors"`
}

// NewSocketServer creates a socket server at the given path
func NewSocketServer(path string, logger *slog.Logger, d *daemon.Daemon) *SocketServer {
	return &SocketServer{
		path:   path,
		logger: logger,
		daemon: d,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins accepting connections. A stale
// socket file from an earlier run is removed first.
func (s *SocketServer) Start() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket %s: %w", s.path, err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	s.listener = listener

	s.logger.Info("Starting socket server", slog.String("path", s.path))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener, waits for connections to finish and
// removes the socket file.
func (s *SocketServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping socket server...")

	if s.listener != nil {
		s.listener.Close()
	}

	// Unblock readers so idle clients cannot stall shutdown.
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("socket server shutdown timed out: %w", ctx.Err())
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket %s: %w", s.path, err)
	}
	return nil
}

func (s *SocketServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("socket accept failed", slog.String("error", err.Error()))
			continue
		}

		s.trackConnection(conn)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection serves one client. A malformed line gets an error
// response; it never kills the connection.
func (s *SocketServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.releaseConnection(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.incrementLinesReceived()

		var resp daemon.Response
		cmd, err := daemon.ParseCommand(line)
		if err != nil {
			s.incrementParseErrors()
			s.logger.Warn("malformed socket command", slog.String("error", err.Error()))
			resp = daemon.NewError(err)
		} else {
			resp = s.daemon.Dispatch(context.Background(), cmd)
		}

		if err := s.writeResponse(conn, resp); err != nil {
			s.logger.Warn("failed to write socket response", slog.String("error", err.Error()))
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("socket read failed", slog.String("error", err.Error()))
	}
}

func (s *SocketServer) writeResponse(conn net.Conn, resp daemon.Response) error {
	data, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (s *SocketServer) trackConnection(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
	s.connections++
}

func (s *SocketServer) releaseConnection(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Statistics methods

func (s *SocketServer) incrementLinesReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linesReceived++
}

func (s *SocketServer) incrementParseErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parseErrors++
}

// GetStats returns current socket server statistics
func (s *SocketServer) GetStats() SocketStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SocketStats{
		Connections:   s.connections,
		LinesReceived: s.linesReceived,
		ParseErrors:   s.parseErrors,
	}
}
