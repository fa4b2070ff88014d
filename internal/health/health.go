package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
)

// Status represents the overall result of a check run
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusNoStorage   Status = "no-storage"
	StatusNoUpstream  Status = "no-upstream"
	StatusUnreachable Status = "unhealthy"

	// DefaultTimeout bounds the upstream probe.
	DefaultTimeout = 5 * time.Second
)

// CheckResult contains the results of health checks
type CheckResult struct {
	RootReadable      bool
	RootEntries       int
	RootError         error
	UpstreamReachable bool
	UpstreamStatus    int
	UpstreamLatency   time.Duration
	UpstreamError     error
}

// Status summarizes r.
func (r *CheckResult) Status() Status {
	switch {
	case r.RootReadable && r.UpstreamReachable:
		return StatusHealthy
	case r.UpstreamReachable:
		return StatusNoStorage
	case r.RootReadable:
		return StatusNoUpstream
	default:
		return StatusUnreachable
	}
}

// CheckRoot verifies the sandbox root can be listed. Bot directories
// appear there once the upstream has stored a file for the bot.
func CheckRoot(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// CheckUpstream sends GET / to the upstream. Any HTTP answer counts as
// reachable: the bot API server replies 404 to paths it does not know.
func CheckUpstream(ctx context.Context, client *http.Client, cfg *config.Config) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Upstream.String()+"/", nil)
	if err != nil {
		return 0, 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("upstream %s unreachable: %w", cfg.Upstream.Host, err)
	}
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), nil
}

// Check performs all health checks. A nil client uses http.DefaultClient.
func Check(ctx context.Context, client *http.Client, cfg *config.Config) *CheckResult {
	if client == nil {
		client = http.DefaultClient
	}
	result := &CheckResult{}

	result.RootEntries, result.RootError = CheckRoot(cfg.SandboxRoot)
	result.RootReadable = result.RootError == nil

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	result.UpstreamStatus, result.UpstreamLatency, result.UpstreamError = CheckUpstream(ctx, client, cfg)
	result.UpstreamReachable = result.UpstreamError == nil

	return result
}

// FormatLatency renders d for humans.
func FormatLatency(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
