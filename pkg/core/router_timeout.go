package core

import (
	"context"
	"errors"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
)

// withTimeout bounds the request context by policy.timeout_ms. A handler that
// gives up at the deadline without answering gets a JSON 504. Deferred async
// work is detached from this context; async_timeout_ms governs that.
func withTimeout(next http.HandlerFunc, d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()

		ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r.WithContext(ctx))

		if ww.Status() == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			writeError(ww, http.StatusGatewayTimeout, context.DeadlineExceeded.Error())
		}
	}
}
