package core

import (
	"fmt"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	manifest "github.com/joeydtaylor/steeze-applink/pkg/manifest"
	hmetrics "github.com/joeydtaylor/steeze-applink/pkg/middleware/metrics"
	"go.uber.org/zap"
)

// BuildRouter mounts every manifest route on d.Router. The async registry
// middleware sits inside access logging and metrics, so both record the
// acknowledgement rather than the deferred work.
func BuildRouter(cfg manifest.Config, d BuildDeps) (http.Handler, error) {
	if d.Handlers == nil {
		d.Handlers = NewHandlerSet()
	}
	r := d.Router
	r.Use(chimd.RequestID, chimd.Recoverer, chimd.Heartbeat("/ping"))

	if d.Auth != nil {
		r.Use(d.Auth.Middleware())
		if d.LogMW != nil {
			r.Use(d.LogMW.Middleware(d.Auth))
		}
		// metrics collector that references auth state without copying it
		r.Use(hmetrics.Collect(d.Auth))
	} else if d.LogMW != nil {
		r.Use(d.LogMW.Middleware(nil))
	}
	if d.Registry != nil {
		r.Use(d.Registry.Middleware())
	}

	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Route %s:%s not found", r.Method, r.URL.Path))
	})

	for i, rt := range cfg.Routes {
		h, err := wrapRoute(rt, d)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s %s): %w", i, rt.Method, rt.Path, err)
		}
		if rl := rt.Policy.RateLimit; rl != nil && rl.RPS > 0 {
			h = withRateLimit(h, newRateLimiter(*rl))
		}
		if rt.Policy.TimeoutMS > 0 {
			t := time.Duration(rt.Policy.TimeoutMS) * time.Millisecond
			h = withTimeout(h, t)
		}
		h = withGuard(h, d.Auth, rt.Guard)

		r.Handle(rt.Method, rt.Path, h)
		if d.Log != nil {
			d.Log.Info("route mounted",
				zap.String("method", rt.Method),
				zap.String("path", rt.Path),
				zap.String("handler", rt.Handler.Name),
				zap.Bool("async", rt.IsAsync()),
				zap.Bool("parseRequest", rt.ParsesRequest()),
				zap.Strings("tags", rt.Tags),
			)
		}
	}
	return r.Mux(), nil
}
