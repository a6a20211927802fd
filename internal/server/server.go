package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/room"
)

// RoomProvider resolves room ids to rooms, creating them on first
// contact, and knows the published base URL for redirects.
type RoomProvider interface {
	EnsureRoom(id string) (*room.Room, error)
	BaseURL() string
}

// Options configures the connection pipeline.
type Options struct {
	Provider    RoomProvider
	ResourceDir string
	PluginDir   string
	// TLS enables the https/wss path. When nil, connections that open
	// with a TLS handshake are dropped.
	TLS *tls.Config
}

// Server owns the TCP acceptor and the per-connection pipeline:
// protocol detection, HTTP session, and the optional WebSocket
// promotion.
type Server struct {
	opts     Options
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
}

// New creates a server. Call Listen before Serve.
func New(opts Options) *Server {
	return &Server{
		opts:  opts,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the acceptor. Port 0 lets the OS choose; read the result
// back with Port.
func (s *Server) Listen(host string, port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Port returns the port the acceptor is bound to.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve runs the accept loop until the listener is closed. Accept
// failures are logged and non-fatal; a closed listener ends the loop
// silently.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, closes active connections, and waits for the
// connection goroutines to drain, bounded by the context.
func (s *Server) Close(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		return ctx.Err()
	case <-time.After(10 * time.Second):
		logging.Warn("Shutdown timeout after 10 seconds, forcing close")
		return nil
	}
}

// handleConn runs protocol detection and hands the stream to the
// matching HTTP session variant.
func (s *Server) handleConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	defer func() {
		_ = conn.Close()
		logging.LogConnection(remoteAddr, "connection_closed")
	}()
	logging.LogConnection(remoteAddr, "connection_accepted")

	isTLS, br, err := detect(conn)
	if err != nil {
		// A peer that connects and goes away without a byte is not an
		// incident.
		if !benignNetError(err) {
			logging.Error("Protocol detection failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
		}
		return
	}

	if isTLS {
		if s.opts.TLS == nil {
			logging.Warn("TLS connection rejected: TLS is not configured",
				zap.String("remote_addr", remoteAddr),
			)
			return
		}
		tlsConn := tls.Server(newBufferedConn(conn, br), s.opts.TLS)
		if err := tlsConn.Handshake(); err != nil {
			if !benignNetError(err) {
				logging.Error("TLS handshake failed",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		s.serveHTTP(tlsConn, bufio.NewReader(tlsConn), remoteAddr)
		return
	}

	s.serveHTTP(conn, br, remoteAddr)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// benignNetError reports errors that mean "the peer went away", which
// are expected and never logged as failures.
func benignNetError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// closeWrite performs a graceful half-close when the transport supports
// it (TCP and TLS connections both do).
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
