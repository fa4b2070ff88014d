package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// newTransport returns the upstream transport shared by all requests.
// Compression is left to the client: the transport must not add its own
// Accept-Encoding and transparently decode, or bodies and Content-Length
// would no longer match what the upstream sent.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DisableCompression = true
	t.MaxIdleConnsPerHost = 64
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// forward relays any request the other routes do not claim.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) {
	p.forwarder.ServeHTTP(w, r)
}

// direct points the outgoing request at the upstream. Method, headers and
// body are left as received.
func (p *Proxy) direct(req *http.Request) {
	req.URL = upstreamURL(p.cfg.Upstream, req.URL)

	// A nil entry stops ReverseProxy from appending the client address.
	if _, ok := req.Header["X-Forwarded-For"]; !ok {
		req.Header["X-Forwarded-For"] = nil
	}
}

// upstreamURL joins base with the path and query of in. Leading slashes
// of the incoming path are collapsed so the result never has "//" after
// the authority.
func upstreamURL(base, in *url.URL) *url.URL {
	u := &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     "/" + strings.TrimLeft(in.Path, "/"),
		RawQuery: in.RawQuery,
	}
	if in.RawPath != "" {
		u.RawPath = "/" + strings.TrimLeft(in.RawPath, "/")
	}
	return u
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		p.logger.Debug("client went away", "path", redactPath(r.URL.Path), "error", err)
	} else {
		p.logger.Error("proxy error", "error", err, "path", redactPath(r.URL.Path))
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}
