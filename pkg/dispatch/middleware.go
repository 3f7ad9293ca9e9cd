package dispatch

import (
	"net/http"

	chimd "github.com/go-chi/chi/v5/middleware"
)

// Middleware attaches a fresh State to every request and, once the route's
// handler has returned, hands acknowledged requests to Dispatch on their
// own goroutine. Install it outside the router's route handlers.
func (reg *Registry) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := newState(requestIDOf(r))
			next.ServeHTTP(w, r.WithContext(WithState(r.Context(), st)))

			if !st.Async() {
				return
			}
			reg.wg.Add(1)
			go func() {
				defer reg.wg.Done()
				reg.Dispatch(reg.ctx, st)
			}()
		})
	}
}

func requestIDOf(r *http.Request) string {
	if id := chimd.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(chimd.RequestIDHeader)
}
