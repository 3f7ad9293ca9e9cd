package logger

import (
	"bytes"
	"io"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"go.uber.org/zap"
)

// peekBody reads at most maxLoggedBody bytes for logging and leaves the full
// body readable downstream. Longer bodies, chunked ones included, are not
// returned.
func peekBody(r *http.Request) []byte {
	head, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil || len(head) > maxLoggedBody {
		return nil
	}
	return head
}

// Middleware writes one access log line per request.
type Middleware struct {
	log *zap.Logger
}

func (m *Middleware) logger() *zap.Logger {
	if m != nil && m.log != nil {
		return m.log
	}
	return accessLog()
}

func (m *Middleware) Middleware(ca *auth.Middleware) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := m.logger()

			ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)

			var body []byte
			if r.Body != nil && bodyLoggable(r) {
				body = peekBody(r)
			}

			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}

			start := time.Now()
			defer func() {
				lat := time.Since(start)

				// nil-safe auth lookups
				isAuth := false
				var u auth.User
				if ca != nil {
					isAuth = ca.IsAuthenticated(r.Context())
					u = ca.GetUser(r.Context())
				}

				log := l.With(
					zap.String("dateTime", start.UTC().Format(time.RFC1123)),
					zap.String("requestId", chimd.GetReqID(r.Context())),
					zap.String("httpScheme", scheme),
					zap.Bool("isAuthenticated", isAuth),
					zap.String("username", u.Username),
					zap.String("orgId", u.OrgID),
					zap.String("authenticationProvider", u.AuthenticationSource.Provider),
					zap.String("httpProto", r.Proto),
					zap.String("httpMethod", r.Method),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("uri", r.URL.Path),
					zap.Duration("lat", lat),
					zap.Int("responseSize", ww.BytesWritten()),
					zap.Int("status", ww.Status()),
				)

				// Redact by default; allowlist small JSON bodies only.
				if shouldLogBody(r, body) {
					log.Info("", zap.ByteString("requestData", body))
				} else {
					log.Info("")
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
