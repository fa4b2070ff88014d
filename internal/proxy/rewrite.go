package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const filePathKey = "result.file_path"

// ResolutionPayload is the part of a GetFile response the rewriter acts on.
type ResolutionPayload struct {
	FilePath string
}

// DecodeResolution reports whether body is a successful GetFile response:
// a JSON object with "ok": true and a string result.file_path. Anything
// else, including "ok": 1 or a non-object result, does not match.
func DecodeResolution(body []byte) (ResolutionPayload, bool) {
	if !gjson.ValidBytes(body) {
		return ResolutionPayload{}, false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return ResolutionPayload{}, false
	}
	if doc.Get("ok").Type != gjson.True {
		return ResolutionPayload{}, false
	}
	if !doc.Get("result").IsObject() {
		return ResolutionPayload{}, false
	}
	fp := doc.Get(filePathKey)
	if fp.Type != gjson.String {
		return ResolutionPayload{}, false
	}
	return ResolutionPayload{FilePath: fp.String()}, true
}

// RelativeFilePath returns the part of filePath after the first occurrence
// of botID with leading slashes removed. It reports false when botID is
// empty or absent.
func RelativeFilePath(filePath, botID string) (string, bool) {
	if botID == "" {
		return "", false
	}
	i := strings.Index(filePath, botID)
	if i < 0 {
		return "", false
	}
	return strings.TrimLeft(filePath[i+len(botID):], "/"), true
}

// RewriteResolution replaces result.file_path in body with its path
// relative to the bot directory. Every other byte is left as is. When the
// body does not qualify the original slice is returned with false.
func RewriteResolution(body []byte, botID string) ([]byte, bool) {
	payload, ok := DecodeResolution(body)
	if !ok {
		return body, false
	}
	rel, ok := RelativeFilePath(payload.FilePath, botID)
	if !ok {
		return body, false
	}
	out, err := sjson.SetBytes(body, filePathKey, rel)
	if err != nil {
		return body, false
	}
	return out, true
}

// rewriteResponse is the ModifyResponse hook for GetFile. It only fails
// when the upstream body cannot be read; every other mismatch passes the
// response through untouched.
func (p *Proxy) rewriteResponse(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	botID := botIDFromContext(resp.Request.Context())

	raw, complete, err := readBounded(resp.Body, p.cfg.MaxResolveBodySize)
	if err != nil {
		return fmt.Errorf("reading upstream response: %w", err)
	}
	if !complete {
		p.logger.Debug("resolve response too large to rewrite", "limit", p.cfg.MaxResolveBodySize)
		resp.Body = replayBody(raw, resp.Body)
		return nil
	}
	resp.Body.Close()

	out, changed := p.rewriteBody(raw, resp.Header.Get("Content-Encoding"), botID)
	if !changed {
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return nil
	}

	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

func (p *Proxy) rewriteBody(raw []byte, encoding, botID string) ([]byte, bool) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		out, ok := RewriteResolution(raw, botID)
		if !ok {
			p.logger.Debug("resolve response passed through", "bot_present", botID != "")
		}
		return out, ok

	case "gzip", "x-gzip":
		plain, err := gunzip(raw, p.cfg.MaxResolveBodySize)
		if err != nil {
			p.logger.Debug("resolve response not decodable", "encoding", encoding, "error", err)
			return raw, false
		}
		out, ok := RewriteResolution(plain, botID)
		if !ok {
			return raw, false
		}
		packed, err := gzipBytes(out)
		if err != nil {
			p.logger.Warn("failed to re-encode resolve response", "error", err)
			return raw, false
		}
		return packed, true

	default:
		return raw, false
	}
}

// readBounded reads up to limit bytes. complete is false when more data
// follows, in which case the returned prefix is limit+1 bytes long and r is
// positioned after it.
func readBounded(r io.Reader, limit int64) (data []byte, complete bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	return data, int64(len(data)) <= limit, nil
}

// replayBody yields prefix followed by the unread rest of body.
func replayBody(prefix []byte, body io.ReadCloser) io.ReadCloser {
	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), body), body}
}

func gunzip(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	plain, complete, err := readBounded(zr, limit)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("decoded body exceeds %d bytes", limit)
	}
	return plain, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
