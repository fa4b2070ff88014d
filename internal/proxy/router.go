package proxy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	filePattern         = "/file/bot{botID}/*"
	resolvePattern      = "/bot{botID}/GetFile"
	resolvePatternLower = "/bot{botID}/getFile"
)

// Route labels used in logs.
const (
	routeFile    = "file"
	routeResolve = "resolve"
	routeForward = "forward"
)

func (p *Proxy) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(p.logRequests)
	r.Use(middleware.Recoverer)

	r.Get(filePattern, p.serveFile)
	r.Head(filePattern, p.serveFile)
	r.Post(resolvePattern, p.resolveFile)
	r.Post(resolvePatternLower, p.resolveFile)

	// Other methods on the routes above are not ours to reject.
	r.NotFound(p.forward)
	r.MethodNotAllowed(p.forward)

	return r
}

func (p *Proxy) serveFile(w http.ResponseWriter, r *http.Request) {
	botID, ok := pathParam(r, "botID")
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	subPath, ok := pathParam(r, "*")
	if !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	p.files.Serve(w, r, botID, subPath)
}

type botIDKey struct{}

func (p *Proxy) resolveFile(w http.ResponseWriter, r *http.Request) {
	botID, _ := pathParam(r, "botID")
	ctx := context.WithValue(r.Context(), botIDKey{}, botID)
	p.resolver.ServeHTTP(w, r.WithContext(ctx))
}

// pathParam returns a decoded URL parameter. chi matches against the
// escaped path when one exists, so parameters may still carry
// percent-encoding.
func pathParam(r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, true
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return "", false
	}
	return decoded, true
}

func botIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(botIDKey{}).(string)
	return id
}
