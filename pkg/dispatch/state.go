package dispatch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
)

// Status is the per-request completion flag.
type Status int32

const (
	// StatusNotApplicable marks a request served by a synchronous route.
	StatusNotApplicable Status = iota
	// StatusPending marks an acknowledged request whose deferred work has not finished.
	StatusPending
	// StatusComplete marks a request whose deferred work is done or must be skipped.
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	default:
		return "n/a"
	}
}

// State travels with one request through the pipeline. The acknowledgement
// handler binds it to a route; the post-response hook reads it.
type State struct {
	requestID string

	status  atomic.Int32
	claimed atomic.Bool

	mu        sync.Mutex
	route     RouteID
	req       *http.Request
	body      []byte
	ackStatus int
	attrs     map[string]string
	err       error
}

func newState(requestID string) *State {
	return &State{requestID: requestID}
}

// NewState returns a detached state, mostly useful to drive Dispatch in tests.
func NewState(requestID string) *State { return newState(requestID) }

func (s *State) RequestID() string { return s.requestID }

func (s *State) Status() Status { return Status(s.status.Load()) }

// Async reports whether an acknowledgement handler bound this request.
func (s *State) Async() bool { return s.Status() != StatusNotApplicable }

// MarkComplete sets the completion flag. Once set, the post-response hook
// will not invoke the deferred handler.
func (s *State) MarkComplete() { s.status.Store(int32(StatusComplete)) }

func (s *State) Route() RouteID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// AckStatus is the status code written by the acknowledgement handler.
func (s *State) AckStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackStatus
}

// Body returns the buffered request body seen by the acknowledgement handler.
func (s *State) Body() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body
}

// Annotate attaches a string attribute that is forwarded with the completion
// notification (org id, record ids...).
func (s *State) Annotate(k, v string) {
	s.mu.Lock()
	if s.attrs == nil {
		s.attrs = map[string]string{}
	}
	s.attrs[k] = v
	s.mu.Unlock()
}

func (s *State) Attrs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// Err is the deferred handler's error, if any, once the state is complete.
func (s *State) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *State) bind(id RouteID, r *http.Request, body []byte) {
	s.mu.Lock()
	s.route = id
	s.req = r
	s.body = body
	s.mu.Unlock()
	s.status.CompareAndSwap(int32(StatusNotApplicable), int32(StatusPending))
}

func (s *State) setAckStatus(code int) {
	s.mu.Lock()
	s.ackStatus = code
	s.mu.Unlock()
}

func (s *State) request() (*http.Request, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req, s.body
}

func (s *State) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.MarkComplete()
}

type ctxKey struct{}

// WithState attaches st to ctx.
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, ctxKey{}, st)
}

// FromContext returns the request state, or nil outside the dispatch middleware.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(ctxKey{}).(*State)
	return st
}
