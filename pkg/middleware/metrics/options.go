package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

var (
	skipMu    sync.RWMutex
	skipPaths = map[string]struct{}{"/metrics": {}, "/ping": {}}

	normMu         sync.RWMutex
	pathNormalizer = RoutePattern
)

// RoutePattern labels a request with the chi route pattern it matched, e.g.
// /sobjects/{id}, or "unmatched" for 404s.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// AddMetricsSkipPaths extends the skip list (default: /metrics, /ping).
func AddMetricsSkipPaths(paths ...string) {
	skipMu.Lock()
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p != "" {
			skipPaths[p] = struct{}{}
		}
	}
	skipMu.Unlock()
}

// SetPathNormalizer replaces how the uri label is derived.
func SetPathNormalizer(fn func(*http.Request) string) {
	if fn == nil {
		return
	}
	normMu.Lock()
	pathNormalizer = fn
	normMu.Unlock()
}

func isSkipPath(r *http.Request) bool {
	p := r.URL.Path
	skipMu.RLock()
	_, ok := skipPaths[p]
	skipMu.RUnlock()
	return ok
}

func normalizePath(r *http.Request) string {
	normMu.RLock()
	fn := pathNormalizer
	normMu.RUnlock()
	return fn(r)
}
