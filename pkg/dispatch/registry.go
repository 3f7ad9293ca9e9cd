package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler is the deferred handler of an asynchronous route. It runs after
// the acknowledgement has been written, with the request as the
// acknowledgement handler saw it.
type Handler func(ctx context.Context, r *http.Request, st *State) error

// AckHandler replaces the default 201 acknowledgement. Returning an error
// (or calling st.MarkComplete) cancels the deferred work.
type AckHandler func(w http.ResponseWriter, r *http.Request, st *State) error

// DuplicatePolicy decides what Register does with an already registered route.
type DuplicatePolicy int

const (
	// Replace keeps the newest handler and logs a warning.
	Replace DuplicatePolicy = iota
	// Reject fails the second registration with ErrDuplicateRoute.
	Reject
)

var ErrDuplicateRoute = errors.New("dispatch: route already registered")

type entry struct {
	id      RouteID
	handler Handler
	ack     AckHandler
	timeout time.Duration
	topic   string
}

// Option configures a single registration.
type Option func(*entry)

func WithAck(a AckHandler) Option        { return func(e *entry) { e.ack = a } }
func WithTimeout(d time.Duration) Option { return func(e *entry) { e.timeout = d } }
func WithTopic(topic string) Option      { return func(e *entry) { e.topic = topic } }

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

func WithDuplicatePolicy(p DuplicatePolicy) RegistryOption { return func(r *Registry) { r.dup = p } }
func WithNotifier(n Notifier) RegistryOption               { return func(r *Registry) { r.notifier = n } }

// WithMaxBodyBytes caps the request body an acknowledgement buffers for its
// deferred handler. Larger bodies are refused with http.MaxBytesError.
func WithMaxBodyBytes(n int64) RegistryOption { return func(r *Registry) { r.maxBody = n } }

// DefaultMaxBodyBytes is the body cap when WithMaxBodyBytes is not given.
const DefaultMaxBodyBytes = 10 << 20

// WithErrorWriter sets how acknowledgement failures reach the caller.
func WithErrorWriter(fn func(http.ResponseWriter, *http.Request, error)) RegistryOption {
	return func(r *Registry) { r.writeErr = fn }
}

// Registry maps route identities to deferred handlers. Writes happen at
// route registration; reads happen on every asynchronous request.
type Registry struct {
	log      *zap.Logger
	dup      DuplicatePolicy
	notifier Notifier
	writeErr func(http.ResponseWriter, *http.Request, error)
	maxBody  int64

	mu      sync.RWMutex
	entries map[RouteID]*entry

	// parent of every deferred context started by the middleware
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(log *zap.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		log:      log,
		notifier: NoopNotifier{},
		maxBody:  DefaultMaxBodyBytes,
		writeErr: func(w http.ResponseWriter, _ *http.Request, err error) {
			code := http.StatusInternalServerError
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				code = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), code)
		},
		entries: map[RouteID]*entry{},
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register stores h for id and returns the acknowledgement handler to mount
// in place of the route's own handler.
func (reg *Registry) Register(id RouteID, h Handler, opts ...Option) (http.HandlerFunc, error) {
	if id.IsZero() {
		return nil, errors.New("dispatch: empty route id")
	}
	if h == nil {
		return nil, fmt.Errorf("dispatch: nil handler for %s", id)
	}
	e := &entry{id: id, handler: h}
	for _, o := range opts {
		o(e)
	}

	reg.mu.Lock()
	if _, exists := reg.entries[id]; exists {
		if reg.dup == Reject {
			reg.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, id)
		}
		reg.log.Warn("async handler replaced", zap.String("route", id.String()))
	}
	reg.entries[id] = e
	reg.mu.Unlock()

	return reg.ackHandler(id), nil
}

// Lookup returns the deferred handler registered for id.
func (reg *Registry) Lookup(id RouteID) (Handler, bool) {
	reg.mu.RLock()
	e, ok := reg.entries[id]
	reg.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Len is the number of registered routes.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.entries)
}

func (reg *Registry) entry(id RouteID) (*entry, bool) {
	reg.mu.RLock()
	e, ok := reg.entries[id]
	reg.mu.RUnlock()
	return e, ok
}

func (reg *Registry) ackHandler(id RouteID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg.log.Info("async response",
			zap.String("route", id.String()),
			zap.String("requestId", requestIDOf(r)),
		)

		st := FromContext(r.Context())
		if st == nil {
			// Mounted without the middleware: nothing will run the deferred
			// handler, so refuse rather than acknowledge work that never happens.
			reg.writeErr(w, r, errors.New("async dispatch middleware not installed"))
			return
		}

		var body []byte
		if r.Body != nil {
			b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, reg.maxBody))
			_ = r.Body.Close()
			if err != nil {
				st.MarkComplete()
				reg.writeErr(w, r, fmt.Errorf("read body: %w", err))
				return
			}
			body = b
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		st.bind(id, r, body)

		e, ok := reg.entry(id)
		if ok && e.ack != nil {
			rec := &statusRecorder{ResponseWriter: w}
			if err := e.ack(rec, r, st); err != nil {
				st.MarkComplete()
				if !rec.wrote {
					reg.writeErr(w, r, err)
				}
				reg.log.Warn("async acknowledgement failed",
					zap.String("route", id.String()),
					zap.Error(err),
				)
				return
			}
			if !rec.wrote {
				writeAccepted(rec)
			}
			st.setAckStatus(rec.status)
			_ = http.NewResponseController(w).Flush()
			return
		}

		writeAccepted(w)
		st.setAckStatus(http.StatusCreated)
		_ = http.NewResponseController(w).Flush()
	}
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

// Dispatch runs the deferred handler for the request tracked by st. It is a
// no-op for synchronous requests, unknown routes and completed states, and
// runs the handler at most once per state. Handler errors and panics are
// logged, never returned.
func (reg *Registry) Dispatch(ctx context.Context, st *State) {
	if st == nil || !st.Async() {
		return
	}
	id := st.Route()
	e, ok := reg.entry(id)
	if !ok {
		return
	}
	log := reg.log.With(zap.String("route", id.String()), zap.String("requestId", st.RequestID()))

	if st.Status() == StatusComplete {
		log.Info("async complete, skipping deferred handler")
		dispatchTotal.WithLabelValues(id.String(), string(OutcomeSkipped)).Inc()
		return
	}
	if !st.claimed.CompareAndSwap(false, true) {
		log.Info("deferred handler already claimed")
		return
	}

	req, body := st.request()
	base := ctx
	if req != nil {
		// Keep the values the pipeline attached (parsed org context, request
		// id) but not the request's cancellation: the response is done.
		base = context.WithoutCancel(req.Context())
	} else {
		req = &http.Request{Method: id.Method, Header: http.Header{}}
	}
	dctx, cancel := context.WithCancel(base)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if e.timeout > 0 {
		var tcancel context.CancelFunc
		dctx, tcancel = context.WithTimeout(dctx, e.timeout)
		defer tcancel()
	}
	ctx = dctx

	req = req.WithContext(WithState(ctx, st))
	req.Body = io.NopCloser(bytes.NewReader(body))

	log.Info("found async handler")
	inflight.Inc()
	start := time.Now()
	panicked, err := invoke(ctx, e.handler, req, st)
	elapsed := time.Since(start)
	inflight.Dec()

	outcome := OutcomeOK
	switch {
	case panicked:
		outcome = OutcomePanic
		log.Error("deferred handler panicked", zap.Error(err), zap.Duration("elapsed", elapsed))
	case err != nil:
		outcome = OutcomeError
		log.Error("deferred handler failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	}
	st.finish(err)
	dispatchTotal.WithLabelValues(id.String(), string(outcome)).Inc()
	dispatchSeconds.WithLabelValues(id.String()).Observe(elapsed.Seconds())
	log.Info("async complete", zap.String("outcome", string(outcome)), zap.Duration("elapsed", elapsed))

	if e.topic == "" {
		return
	}
	c := Completion{
		JobID:      uuid.NewString(),
		Topic:      e.topic,
		Route:      id.String(),
		RequestID:  st.RequestID(),
		Outcome:    outcome,
		Attrs:      st.Attrs(),
		StartedAt:  start.UTC(),
		FinishedAt: start.Add(elapsed).UTC(),
	}
	if err != nil {
		c.Error = err.Error()
	}
	// The handler's deadline may have passed; notification gets its own.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if nerr := reg.notifier.Notify(nctx, c); nerr != nil {
		log.Warn("completion notify failed", zap.String("topic", e.topic), zap.Error(nerr))
	}
}

const notifyTimeout = 10 * time.Second

func invoke(ctx context.Context, h Handler, r *http.Request, st *State) (panicked bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return false, h(ctx, r, st)
}

// Shutdown waits for deferred handlers started by the middleware. When ctx
// ends first, their contexts are cancelled and ctx.Err() is returned.
func (reg *Registry) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		reg.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		reg.cancel()
		return nil
	case <-ctx.Done():
		reg.cancel()
		return ctx.Err()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
