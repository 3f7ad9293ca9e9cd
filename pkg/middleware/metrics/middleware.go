package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
)

// Collect produces the HTTP middleware that records the counters/histogram.
func Collect(ca *auth.Middleware) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)
			startTime := time.Now()

			defer func() {
				// Skip self-scrape and any additional caller-configured paths
				if isSkipPath(r) {
					return
				}

				elapsed := time.Since(startTime)

				org, provider := "", ""
				if ca != nil {
					u := ca.GetUser(r.Context())
					org, provider = u.OrgID, u.AuthenticationSource.Provider
				}

				code := strconv.Itoa(ww.Status())
				uri := normalizePath(r) // route pattern; avoid cardinality explosion
				method := r.Method

				totalHttpRequestsFromOrg.WithLabelValues(org, provider).Inc()
				totalHttpRequestsToUri.WithLabelValues(code, uri, method).Inc()
				totalHttpRequests.WithLabelValues(code, method).Inc()
				responseTime.WithLabelValues(uri, method).Observe(elapsed.Seconds())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
