package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
)

// testConfig returns a valid config pointing at upstreamURL with a sandbox
// root holding botABC/photos/1.jpg.
func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()

	tmp, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(tmp, "data")
	if err := os.MkdirAll(filepath.Join(root, "botABC", "photos"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "botABC", "photos", "1.jpg"), []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(tmp, "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "etc", "passwd"), []byte("root:x:0:0"), 0644); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(upstreamURL)
	if err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		SandboxRoot:        root,
		Upstream:           &url.URL{Scheme: u.Scheme, Host: u.Host},
		Host:               "127.0.0.1",
		Port:               0,
		LogLevel:           config.DefaultLogLevel,
		MaxResolveBodySize: config.DefaultMaxResolveBodySize,
		ShutdownTimeout:    config.DefaultShutdownTimeout,
	}
}

func newTestProxy(t *testing.T, cfg *config.Config) *Proxy {
	t.Helper()
	p, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) should fail")
	}
	if _, err := New(&config.Config{}); err == nil {
		t.Error("New with empty config should fail")
	}
}

func TestProxy_ServesFiles(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("file request reached upstream: %s %s", r.Method, r.URL.Path)
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(t, upstream.URL))

	req := httptest.NewRequest("GET", "/file/botABC/photos/1.jpg", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "jpeg-bytes" {
		t.Errorf("body = %q, want %q", got, "jpeg-bytes")
	}
}

func TestProxy_FileTraversal(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream"))
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(t, upstream.URL))

	paths := []string{
		"/file/botABC/../../etc/passwd",
		"/file/botABC/..%2F..%2Fetc%2Fpasswd",
		"/file/botABC/%2e%2e/%2e%2e/etc/passwd",
		"/file/botABC/photos/../../../etc/passwd",
		"/file/botABC/photos",
		"/file/botNOPE/photos/1.jpg",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()
			p.ServeHTTP(w, req)

			if w.Code != http.StatusNotFound {
				t.Errorf("expected 404, got %d", w.Code)
			}
			if strings.Contains(w.Body.String(), "root:x") {
				t.Errorf("leaked file contents: %q", w.Body.String())
			}
		})
	}
}

func TestProxy_ForwardPreservesRequest(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotQuery  string
		gotHeader string
		gotBody   string
		gotXFF    []string
		hasXFF    bool
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Custom")
		gotXFF, hasXFF = r.Header["X-Forwarded-For"]
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(t, upstream.URL))

	tests := []struct {
		name      string
		method    string
		target    string
		wantPath  string
		wantQuery string
	}{
		{"api method", "POST", "/bot123:TOKEN/sendMessage?chat_id=1", "/bot123:TOKEN/sendMessage", "chat_id=1"},
		{"double leading slash", "GET", "//bot123:TOKEN/getMe", "/bot123:TOKEN/getMe", ""},
		{"other method on file route", "DELETE", "/file/botABC/photos/1.jpg", "/file/botABC/photos/1.jpg", ""},
		{"get on resolve route", "GET", "/botABC/GetFile?file_id=x", "/botABC/GetFile", "file_id=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader("payload"))
			req.Header.Set("X-Custom", "kept")
			w := httptest.NewRecorder()
			p.ServeHTTP(w, req)

			if w.Code != http.StatusTeapot {
				t.Errorf("expected status 418, got %d", w.Code)
			}
			if w.Header().Get("X-Upstream") != "yes" {
				t.Error("upstream response header missing")
			}
			if w.Body.String() != `{"ok":true,"result":[]}` {
				t.Errorf("body = %q", w.Body.String())
			}
			if gotMethod != tt.method {
				t.Errorf("method = %q, want %q", gotMethod, tt.method)
			}
			if gotPath != tt.wantPath {
				t.Errorf("path = %q, want %q", gotPath, tt.wantPath)
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if gotHeader != "kept" {
				t.Errorf("X-Custom = %q, want kept", gotHeader)
			}
			if gotBody != "payload" {
				t.Errorf("body = %q, want payload", gotBody)
			}
			if hasXFF {
				t.Errorf("X-Forwarded-For should not be added, got %v", gotXFF)
			}
		})
	}
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := testConfig(t, upstream.URL)
	upstream.Close()

	p := newTestProxy(t, cfg)

	for _, target := range []string{"/botABC/GetFile", "/botABC/getMe"} {
		req := httptest.NewRequest("POST", target, strings.NewReader(`{"file_id":"x"}`))
		w := httptest.NewRecorder()
		p.ServeHTTP(w, req)

		if w.Code != http.StatusBadGateway {
			t.Errorf("%s: expected 502, got %d", target, w.Code)
		}
		if strings.TrimSpace(w.Body.String()) == "" {
			t.Errorf("%s: expected error description in body", target)
		}
	}
}

func TestProxy_StreamingResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("expected Flusher")
			return
		}
		for i := 0; i < 3; i++ {
			w.Write([]byte(`{"update_id":1}`))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	p := newTestProxy(t, testConfig(t, upstream.URL))

	req := httptest.NewRequest("POST", "/bot1:T/getUpdates", nil)
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if got := strings.Count(w.Body.String(), "update_id"); got != 3 {
		t.Errorf("expected 3 chunks, got %d", got)
	}
	if !w.Flushed {
		t.Error("expected response to be flushed")
	}
}

func TestProxy_AccessLogging(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cfg := testConfig(t, upstream.URL)
	logPath := filepath.Join(t.TempDir(), "access.log")
	cfg.AccessLogPath = logPath
	p := newTestProxy(t, cfg)

	req := httptest.NewRequest("POST", "/bot123:SECRET/getMe", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	req = httptest.NewRequest("GET", "/file/bot123:SECRET/photos/1.jpg", nil)
	w = httptest.NewRecorder()
	p.ServeHTTP(w, req)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte("SECRET")) {
		t.Errorf("access log leaked token: %s", data)
	}

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), data)
	}

	var entry accessEntry
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("failed to parse access log: %v\ndata: %s", err, lines[0])
	}
	if entry.Route != routeForward {
		t.Errorf("route = %q, want %q", entry.Route, routeForward)
	}
	if entry.Method != "POST" {
		t.Errorf("method = %q, want POST", entry.Method)
	}
	if entry.Path != "/bot123:***/getMe" {
		t.Errorf("path = %q", entry.Path)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", entry.StatusCode)
	}
	if entry.ResponseSize != len(`{"ok":true}`) {
		t.Errorf("response size = %d", entry.ResponseSize)
	}

	if err := json.Unmarshal(lines[1], &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Route != routeFile {
		t.Errorf("route = %q, want %q", entry.Route, routeFile)
	}
	if entry.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", entry.StatusCode)
	}
}

func TestAccessLogger_Rotate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	al, err := newAccessLogger(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	defer al.close()
	al.maxSize = 200

	for i := 0; i < 20; i++ {
		al.log(accessEntry{Method: "GET", Path: "/bot1:***/getMe", StatusCode: 200})
	}

	for _, name := range []string{path, path + ".1", path + ".2", path + ".3"} {
		if _, err := os.Stat(name); err != nil {
			t.Errorf("expected %s to exist: %v", filepath.Base(name), err)
		}
	}
	if _, err := os.Stat(path + ".4"); !os.IsNotExist(err) {
		t.Errorf("expected at most %d rotated files", accessLogKeepFiles)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/bot123:ABC-def/getMe", "/bot123:***/getMe"},
		{"/file/bot123:ABC/photos/1.jpg", "/file/bot123:***/photos/1.jpg"},
		{"/bot123:ABC", "/bot123:***"},
		{"/botABC/GetFile", "/botABC/GetFile"},
		{"/healthz", "/healthz"},
		{"/x/bot1:A/y", "/x/bot1:A/y"},
	}
	for _, tt := range tests {
		if got := redactPath(tt.in); got != tt.want {
			t.Errorf("redactPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUpstreamURL(t *testing.T) {
	base := &url.URL{Scheme: "http", Host: "127.0.0.1:8081"}
	tests := []struct {
		target string
		want   string
	}{
		{"/botX/getMe", "http://127.0.0.1:8081/botX/getMe"},
		{"///botX/getMe?offset=5", "http://127.0.0.1:8081/botX/getMe?offset=5"},
		{"/", "http://127.0.0.1:8081/"},
		{"/file/botX/a%2Fb", "http://127.0.0.1:8081/file/botX/a%2Fb"},
	}
	for _, tt := range tests {
		in, err := url.ParseRequestURI(tt.target)
		if err != nil {
			t.Fatal(err)
		}
		if got := upstreamURL(base, in).String(); got != tt.want {
			t.Errorf("upstreamURL(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}
