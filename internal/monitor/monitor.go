// Package monitor runs periodic health checks while the proxy serves.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
	"github.com/firefly-engineering/botfile-proxy/internal/health"
)

// Monitor periodically checks the sandbox root and upstream, logging when
// the overall status changes.
type Monitor struct {
	interval time.Duration
	cfg      *config.Config
	client   *http.Client
	logger   *slog.Logger

	last health.Status
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClient sets the HTTP client used to probe the upstream.
func WithClient(c *http.Client) Option {
	return func(m *Monitor) {
		m.client = c
	}
}

// WithLogger sets the logger for status changes.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// New creates a new Monitor.
func New(interval time.Duration, cfg *config.Config, opts ...Option) *Monitor {
	m := &Monitor{
		interval: interval,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run starts the monitoring loop. It blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Debug("starting health monitor", "interval", m.interval)

	// Run an immediate check, then loop on interval.
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("health monitor stopping")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one round and reports transitions. The first round always
// logs so the starting state is visible.
func (m *Monitor) check(ctx context.Context) *health.CheckResult {
	result := health.Check(ctx, m.client, m.cfg)
	if ctx.Err() != nil {
		return result
	}

	status := result.Status()
	if status == m.last {
		return result
	}
	prev := m.last
	m.last = status

	attrs := []any{"status", status}
	if prev != "" {
		attrs = append(attrs, "previous", prev)
	}
	if result.RootError != nil {
		attrs = append(attrs, "root_error", result.RootError)
	}
	if result.UpstreamError != nil {
		attrs = append(attrs, "upstream_error", result.UpstreamError)
	}

	if status == health.StatusHealthy {
		m.logger.Info("health check passed", attrs...)
	} else {
		m.logger.Warn("health check failed", attrs...)
	}
	return result
}
