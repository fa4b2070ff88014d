package files

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// copyBufferSize is the chunk size used when streaming a file.
const copyBufferSize = 32 * 1024

// Streamer serves files resolved by a Resolver. It only ever answers 200
// with the file contents or 404; Range and conditional headers are
// ignored.
type Streamer struct {
	resolver *Resolver
	logger   *slog.Logger
}

// NewStreamer creates a Streamer. A nil logger discards output.
func NewStreamer(resolver *Resolver, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Streamer{resolver: resolver, logger: logger}
}

// Serve writes the file <root>/<botID>/<subPath> to w.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, botID, subPath string) {
	if botID == "" {
		s.notFound(w, botID, subPath, errors.New("empty bot identifier"))
		return
	}

	f, info, err := s.open(botID, subPath)
	if err != nil {
		s.notFound(w, botID, subPath, err)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentType(info.Name()))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	// io.CopyBuffer blocks on the client, so a slow reader slows the file
	// read rather than growing memory. A disconnected client fails the
	// next write and ends the copy.
	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(w, io.LimitReader(f, info.Size()), buf)
	if err != nil {
		s.logger.Debug("file stream aborted",
			"bot", botID,
			"path", subPath,
			"written", n,
			"error", err)
	}
}

// open tries the bot directory as named, then with the "bot" prefix the
// route stripped. Both candidates go through the same sandbox checks.
func (s *Streamer) open(botID, subPath string) (*os.File, os.FileInfo, error) {
	f, info, err := s.resolver.Open(botID, subPath)
	if err == nil || strings.HasPrefix(botID, "bot") {
		return f, info, err
	}
	if f, info, perr := s.resolver.Open("bot"+botID, subPath); perr == nil {
		return f, info, nil
	}
	return nil, nil, err
}

func (s *Streamer) notFound(w http.ResponseWriter, botID, subPath string, cause error) {
	s.logger.Debug("file not served", "bot", botID, "path", subPath, "error", cause)
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
