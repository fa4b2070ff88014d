package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseFolder         = "/var/lib/telegram-bot-api"
	DefaultHost               = "localhost"
	DefaultPort               = 3000
	DefaultLogLevel           = "info"
	DefaultMaxResolveBodySize = 1 << 20 // 1 MiB
	DefaultShutdownTimeout    = 10 * time.Second
)

// Config is the immutable runtime configuration of the proxy.
// It is built once by New and shared read-only by every request.
type Config struct {
	// SandboxRoot is the canonical absolute directory files are served from
	SandboxRoot string

	// Upstream is the bot API server, scheme and authority only
	Upstream *url.URL

	// UpstreamPathIgnored is set when the configured URL had a path or
	// query that was dropped
	UpstreamPathIgnored bool

	Host string
	Port int

	LogLevel string
	LogJSON  bool

	// AccessLogPath is the JSON Lines request log (empty = disabled)
	AccessLogPath string

	// MaxConnections caps concurrently accepted connections (0 = unlimited)
	MaxConnections int

	// MaxResolveBodySize bounds how much of a GetFile response is buffered
	// for rewriting. Larger bodies are passed through untouched.
	MaxResolveBodySize int64

	ShutdownTimeout time.Duration

	// HealthInterval is the period of background health checks (0 = off)
	HealthInterval time.Duration
}

// Options holds unvalidated settings as collected from flags, environment
// and config file.
type Options struct {
	ProxyTo            string
	BaseFolder         string
	Host               string
	Port               int
	LogLevel           string
	LogJSON            bool
	AccessLogPath      string
	MaxConnections     int
	MaxResolveBodySize int64
	ShutdownTimeout    time.Duration
	HealthInterval     time.Duration
}

// New validates opts and builds a Config. The base folder must exist;
// it is resolved to its canonical form so that served paths can be
// compared against it after symlink resolution.
func New(opts Options) (*Config, error) {
	if opts.ProxyTo == "" {
		return nil, fmt.Errorf("proxy-to is required")
	}

	upstream, err := NormalizeUpstream(opts.ProxyTo)
	if err != nil {
		return nil, err
	}

	if opts.BaseFolder == "" {
		opts.BaseFolder = DefaultBaseFolder
	}
	root, err := ResolveBaseFolder(opts.BaseFolder)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SandboxRoot:         root,
		Upstream:            upstream,
		UpstreamPathIgnored: UpstreamPathDropped(opts.ProxyTo),
		Host:                opts.Host,
		Port:                opts.Port,
		LogLevel:            opts.LogLevel,
		LogJSON:             opts.LogJSON,
		AccessLogPath:       opts.AccessLogPath,
		MaxConnections:      opts.MaxConnections,
		MaxResolveBodySize:  opts.MaxResolveBodySize,
		ShutdownTimeout:     opts.ShutdownTimeout,
		HealthInterval:      opts.HealthInterval,
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxResolveBodySize == 0 {
		cfg.MaxResolveBodySize = DefaultMaxResolveBodySize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	if c.SandboxRoot == "" || !filepath.IsAbs(c.SandboxRoot) {
		return fmt.Errorf("sandbox root must be an absolute path: %q", c.SandboxRoot)
	}
	if c.Upstream == nil {
		return fmt.Errorf("upstream is required")
	}
	if c.Upstream.Scheme != "http" {
		return fmt.Errorf("upstream must use http (got %q)", c.Upstream.Scheme)
	}
	if c.Upstream.Host == "" {
		return fmt.Errorf("upstream must have a host")
	}
	if c.Upstream.Path != "" || c.Upstream.RawQuery != "" {
		return fmt.Errorf("upstream must not carry a path or query")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 0-65535)", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max-connections must not be negative")
	}
	if c.MaxResolveBodySize <= 0 {
		return fmt.Errorf("max-resolve-body must be positive")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown-timeout must not be negative")
	}
	if c.HealthInterval < 0 {
		return fmt.Errorf("health-interval must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port the server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpstreamPathDropped reports whether raw carried a path or query that
// NormalizeUpstream discarded.
func UpstreamPathDropped(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != ""
}

// NormalizeUpstream parses the upstream URL and reduces it to
// http://<authority>. Anything but plain http is rejected with a hint
// showing the URL that would be accepted.
func NormalizeUpstream(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)

	if !strings.Contains(raw, "://") {
		return nil, fmt.Errorf("proxy URL must be an HTTP URL, try %q instead (got %q)", "http://"+raw, raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy URL %q: %w", raw, err)
	}

	if !strings.EqualFold(u.Scheme, "http") {
		return nil, fmt.Errorf("proxy URL must be an HTTP URL, %s is unsupported, try %q (got %q)",
			u.Scheme, "http://"+u.Host+u.Path, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}
	if u.User != nil {
		return nil, fmt.Errorf("proxy URL %q must not contain credentials", raw)
	}

	return &url.URL{Scheme: "http", Host: u.Host}, nil
}

// ResolveBaseFolder expands a leading ~, makes the path absolute and
// resolves symlinks. The result must be an existing directory.
func ResolveBaseFolder(path string) (string, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder %q: %w", path, err)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder %q: %w", path, err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize folder %q: %w", abs, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to stat folder %q: %w", canonical, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("base folder %q is not a directory", canonical)
	}

	return canonical, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
