package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
	"github.com/firefly-engineering/botfile-proxy/internal/files"
)

// Option configures a Proxy.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	transport http.RoundTripper
}

// WithLogger sets the logger for proxy operations. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTransport replaces the shared upstream transport.
// Used in tests to route requests to httptest servers.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// Proxy routes bot API traffic: file downloads are served from disk,
// GetFile responses are rewritten, everything else is forwarded.
type Proxy struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport http.RoundTripper
	files     *files.Streamer
	forwarder *httputil.ReverseProxy
	resolver  *httputil.ReverseProxy
	accessLog *accessLogger
	handler   http.Handler
}

// New creates a new proxy for cfg. cfg is not copied and must not be
// modified afterwards.
func New(cfg *config.Config, opts ...Option) (*Proxy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.transport == nil {
		o.transport = newTransport()
	}

	p := &Proxy{
		cfg:       cfg,
		logger:    o.logger,
		transport: o.transport,
		files:     files.NewStreamer(files.NewResolver(cfg.SandboxRoot), o.logger),
	}

	// Plain forwarding flushes every write so long polling and chunked
	// responses reach the client as they arrive.
	p.forwarder = &httputil.ReverseProxy{
		Director:      p.direct,
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler:  p.errorHandler,
		ErrorLog:      slog.NewLogLogger(o.logger.Handler(), slog.LevelDebug),
	}
	p.resolver = &httputil.ReverseProxy{
		Director:       p.direct,
		Transport:      p.transport,
		ModifyResponse: p.rewriteResponse,
		ErrorHandler:   p.errorHandler,
		ErrorLog:       slog.NewLogLogger(o.logger.Handler(), slog.LevelDebug),
	}

	if cfg.AccessLogPath != "" {
		al, err := newAccessLogger(cfg.AccessLogPath, o.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create access logger: %w", err)
		}
		p.accessLog = al
	}

	p.handler = p.routes()
	return p, nil
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Close releases the access log and idle upstream connections
func (p *Proxy) Close() error {
	if t, ok := p.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	if p.accessLog != nil {
		return p.accessLog.close()
	}
	return nil
}
