package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-applink/pkg/applink"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
	manifest "github.com/joeydtaylor/steeze-applink/pkg/manifest"
	"go.uber.org/zap"
)

// wrapRoute resolves the manifest handler and, for async routes, registers
// the deferred handler and mounts the acknowledgement in its place.
func wrapRoute(rt manifest.Route, d BuildDeps) (http.HandlerFunc, error) {
	if rt.Handler.Type != manifest.HandlerInproc {
		return nil, fmt.Errorf("unknown handler type %q", rt.Handler.Type)
	}
	entry, ok := d.Handlers.Lookup(rt.Handler.Name)
	if !ok {
		return nil, fmt.Errorf("handler %q not registered", rt.Handler.Name)
	}
	writeErr := ErrorWriter(d.Log)

	var h http.HandlerFunc
	if rt.IsAsync() {
		if d.Registry == nil {
			return nil, errors.New("async route without dispatch registry")
		}
		deferred, err := entry.deferred()
		if err != nil {
			return nil, fmt.Errorf("handler %q: %w", rt.Handler.Name, err)
		}
		sf := rt.Salesforce
		var opts []dispatch.Option
		if sf.Ack == manifest.AckHandler {
			if entry.Ack == nil {
				return nil, fmt.Errorf("handler %q has no acknowledgement for ack = %q", rt.Handler.Name, sf.Ack)
			}
			opts = append(opts, dispatch.WithAck(entry.Ack))
		}
		if sf.AsyncTimeoutMS > 0 {
			opts = append(opts, dispatch.WithTimeout(time.Duration(sf.AsyncTimeoutMS)*time.Millisecond))
		}
		if sf.Topic != "" {
			opts = append(opts, dispatch.WithTopic(sf.Topic))
		}
		ack, err := d.Registry.Register(dispatch.NewRouteID(rt.Method, rt.Path), deferred, opts...)
		if err != nil {
			return nil, err
		}
		h = ack
	} else {
		if entry.Sync == nil {
			return nil, fmt.Errorf("handler %q is async only", rt.Handler.Name)
		}
		h = serveInproc(entry.Sync, writeErr, d.Log)
	}

	if rt.ParsesRequest() {
		c := d.AppLink
		if c == nil {
			c = applink.NewClient(nil)
		}
		h = withClientContext(h, c, writeErr)
	}
	return h, nil
}

func serveInproc(h InprocHandler, writeErr func(http.ResponseWriter, *http.Request, error), log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)
		err := h(ww, r)
		if err == nil {
			return
		}
		if ww.Status() == 0 {
			writeErr(ww, r, err)
			return
		}
		if log != nil {
			log.Error("handler failed after writing response",
				zap.String("requestId", chimd.GetReqID(r.Context())),
				zap.String("uri", r.URL.Path),
				zap.Error(err),
			)
		}
	}
}

// withClientContext parses x-client-context and hands handlers the hydrated
// org. Failures answer 500 with the parse error as message.
func withClientContext(next http.HandlerFunc, c *applink.Client, writeErr func(http.ResponseWriter, *http.Request, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := c.ParseRequest(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if st := dispatch.FromContext(r.Context()); st != nil {
			st.Annotate("orgId", ac.Org.ID)
		}
		next(w, r.WithContext(applink.WithContext(r.Context(), ac)))
	}
}
