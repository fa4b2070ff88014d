package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultAccessLogMaxSize = 50 * 1024 * 1024 // 50 MiB
	accessLogKeepFiles      = 3                 // keep current + 3 rotated files
)

// accessEntry is one JSON line in the access log file.
type accessEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration_ns"`
	RequestID    string        `json:"request_id,omitempty"`
	Route        string        `json:"route"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int           `json:"response_size"`
	RemoteAddr   string        `json:"remote_addr"`
}

// accessLogger appends entries to a file with size-based rotation.
type accessLogger struct {
	path    string
	maxSize int64 // bytes before rotation (0 = no limit)
	file    *os.File
	size    int64
	mu      sync.Mutex
	logger  *slog.Logger
}

func newAccessLogger(path string, logger *slog.Logger) (*accessLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	return &accessLogger{
		path:    path,
		maxSize: defaultAccessLogMaxSize,
		file:    f,
		size:    size,
		logger:  logger,
	}, nil
}

func (al *accessLogger) log(entry accessEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		al.logger.Warn("access log encode failed", "error", err)
		return
	}
	line = append(line, '\n')

	al.mu.Lock()
	defer al.mu.Unlock()

	if al.file == nil {
		return
	}
	n, err := al.file.Write(line)
	al.size += int64(n)
	if err != nil {
		al.logger.Warn("access log write failed", "error", err)
		return
	}
	if al.maxSize > 0 && al.size >= al.maxSize {
		al.rotate()
	}
}

// rotate shifts path.2 -> path.3, path.1 -> path.2, path -> path.1 and
// reopens path. Must be called with mu held.
func (al *accessLogger) rotate() {
	al.file.Close()
	al.file = nil

	os.Remove(fmt.Sprintf("%s.%d", al.path, accessLogKeepFiles))
	for i := accessLogKeepFiles; i > 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", al.path, i-1), fmt.Sprintf("%s.%d", al.path, i))
	}
	os.Rename(al.path, al.path+".1")

	f, err := os.OpenFile(al.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		al.logger.Warn("access log rotation failed", "error", err)
		return
	}
	al.file = f
	al.size = 0
}

func (al *accessLogger) close() error {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.file == nil {
		return nil
	}
	err := al.file.Close()
	al.file = nil
	return err
}

// logRequests is the middleware recording one line per request to the
// process log and, when configured, the access log file.
func (p *Proxy) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routeName(r)
		path := redactPath(r.URL.Path)

		p.logger.Info("request",
			"route", route,
			"method", r.Method,
			"path", path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))

		if p.accessLog != nil {
			p.accessLog.log(accessEntry{
				Timestamp:    start,
				Duration:     time.Since(start),
				RequestID:    middleware.GetReqID(r.Context()),
				Route:        route,
				Method:       r.Method,
				Path:         path,
				StatusCode:   status,
				RequestSize:  r.ContentLength,
				ResponseSize: ww.BytesWritten(),
				RemoteAddr:   r.RemoteAddr,
			})
		}
	})
}

// routeName maps the matched chi pattern to a short label.
func routeName(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return routeForward
	}
	switch rctx.RoutePattern() {
	case filePattern:
		return routeFile
	case resolvePattern, resolvePatternLower:
		return routeResolve
	default:
		return routeForward
	}
}

var tokenPattern = regexp.MustCompile(`^(/(?:file/)?bot[^/:]*):[^/]*`)

// redactPath masks the secret half of a bot token ("123:ABC" -> "123:***")
// so credentials never reach log files.
func redactPath(path string) string {
	return tokenPattern.ReplaceAllString(path, "$1:***")
}
