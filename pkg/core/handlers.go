// core/handlers.go
package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
)

// InprocHandler serves a synchronous route. A returned error is rendered by
// the router's error writer; use *HTTPError to pick the status.
type InprocHandler func(w http.ResponseWriter, r *http.Request) error

// Entry is what a manifest handler name resolves to.
type Entry struct {
	Sync InprocHandler
	// Deferred runs after the acknowledgement on async routes. When nil an
	// async route falls back to running Sync with its output discarded.
	Deferred dispatch.Handler
	Ack      dispatch.AckHandler
}

// HandlerSet holds the named handlers a manifest can reference.
type HandlerSet struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewHandlerSet() *HandlerSet { return &HandlerSet{m: map[string]Entry{}} }

// Handle makes a synchronous handler available under name.
func (s *HandlerSet) Handle(name string, h InprocHandler) {
	s.mu.Lock()
	e := s.m[name]
	e.Sync = h
	s.m[name] = e
	s.mu.Unlock()
}

// HandleAsync makes a deferred handler, and optionally its acknowledgement,
// available under name.
func (s *HandlerSet) HandleAsync(name string, h dispatch.Handler, ack dispatch.AckHandler) {
	s.mu.Lock()
	e := s.m[name]
	e.Deferred = h
	e.Ack = ack
	s.m[name] = e
	s.mu.Unlock()
}

// Lookup retrieves a handler by name.
func (s *HandlerSet) Lookup(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[name]
	return e, ok
}

// Names lists the registered handler names.
func (s *HandlerSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}

func (e Entry) deferred() (dispatch.Handler, error) {
	if e.Deferred != nil {
		return e.Deferred, nil
	}
	if e.Sync == nil {
		return nil, fmt.Errorf("no handler")
	}
	serve := e.Sync
	return func(_ context.Context, r *http.Request, _ *dispatch.State) error {
		return serve(discardWriter{h: http.Header{}}, r)
	}, nil
}

// discardWriter swallows output of a synchronous handler run after the
// response was already sent.
type discardWriter struct{ h http.Header }

func (d discardWriter) Header() http.Header         { return d.h }
func (d discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (d discardWriter) WriteHeader(int)             {}

// Registrar adds handlers to a set. Services contribute registrars to the
// "handlers" fx group.
type Registrar func(*HandlerSet)
