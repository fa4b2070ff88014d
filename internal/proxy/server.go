package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
)

// Server wraps the proxy with listener and lifecycle management
type Server struct {
	proxy  *Proxy
	server *http.Server
	cfg    *config.Config

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new proxy server
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	// No read or write deadline on whole requests: getUpdates long polls
	// and file downloads can legitimately run for minutes.
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           p,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          p.forwarder.ErrorLog,
	}

	return &Server{
		proxy:  p,
		server: server,
		cfg:    cfg,
	}, nil
}

// Listen binds the configured address. Serve must be called afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("server is not listening")
	}

	s.proxy.logger.Info("starting proxy server",
		"addr", ln.Addr().String(),
		"upstream", s.cfg.Upstream.String(),
		"root", s.cfg.SandboxRoot)

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done, then releases proxy resources.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.proxy.logger.Warn("graceful shutdown timed out, closing connections")
		err = s.server.Close()
	}

	// Covers a listener that Serve never took ownership of.
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	if cerr := s.proxy.Close(); err == nil {
		err = cerr
	}
	return err
}
