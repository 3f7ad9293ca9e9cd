package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	return NewRegistry(zap.New(core), opts...), logs
}

// mount wires reg the same way the router builder does: middleware first,
// then the acknowledgement handler in place of the route handler.
func mount(t *testing.T, reg *Registry, method, path string, h Handler, opts ...Option) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	r.Use(reg.Middleware())
	ack, err := reg.Register(NewRouteID(method, path), h, opts...)
	require.NoError(t, err)
	r.Method(method, path, ack)
	return r
}

func boundState(id RouteID) *State {
	st := NewState("req-1")
	st.bind(id, nil, nil)
	return st
}

func TestAsyncRouteAcknowledgesBeforeDeferredWork(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	release := make(chan struct{})
	var ran atomic.Int32

	r := mount(t, reg, http.MethodPost, "/unitofwork", func(ctx context.Context, _ *http.Request, _ *State) error {
		<-release
		ran.Add(1)
		return nil
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, int32(0), ran.Load(), "deferred handler must not run before the acknowledgement")

	close(release)
	reg.wg.Wait()
	assert.Equal(t, int32(1), ran.Load())
}

func TestDispatchRunsAtMostOnce(t *testing.T) {
	reg, logs := newObservedRegistry(t)
	id := NewRouteID("post", "/unitofwork")
	var calls atomic.Int32
	_, err := reg.Register(id, func(context.Context, *http.Request, *State) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	st := boundState(id)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Dispatch(context.Background(), st)
		}()
	}
	wg.Wait()
	reg.Dispatch(context.Background(), st)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatusComplete, st.Status())
	assert.NotZero(t, logs.FilterMessage("async complete, skipping deferred handler").Len())
}

func TestDuplicateRegistration(t *testing.T) {
	id := NewRouteID(http.MethodPost, "/unitofwork")

	t.Run("replace keeps the newest handler", func(t *testing.T) {
		reg, logs := newObservedRegistry(t)
		var first, second atomic.Int32
		_, err := reg.Register(id, func(context.Context, *http.Request, *State) error { first.Add(1); return nil })
		require.NoError(t, err)
		_, err = reg.Register(id, func(context.Context, *http.Request, *State) error { second.Add(1); return nil })
		require.NoError(t, err)

		reg.Dispatch(context.Background(), boundState(id))
		reg.Dispatch(context.Background(), boundState(id))

		assert.Equal(t, int32(0), first.Load())
		assert.Equal(t, int32(2), second.Load())
		assert.Equal(t, 1, reg.Len())
		assert.Equal(t, 1, logs.FilterMessage("async handler replaced").Len())
	})

	t.Run("reject refuses the second handler", func(t *testing.T) {
		reg, _ := newObservedRegistry(t, WithDuplicatePolicy(Reject))
		noop := func(context.Context, *http.Request, *State) error { return nil }
		_, err := reg.Register(id, noop)
		require.NoError(t, err)
		_, err = reg.Register(id, noop)
		assert.ErrorIs(t, err, ErrDuplicateRoute)
	})
}

func TestCompletionFlagSetByAckSkipsDeferredHandler(t *testing.T) {
	reg, logs := newObservedRegistry(t)
	var ran atomic.Bool

	r := mount(t, reg, http.MethodPost, "/unitofwork",
		func(context.Context, *http.Request, *State) error {
			ran.Store(true)
			return nil
		},
		WithAck(func(w http.ResponseWriter, _ *http.Request, st *State) error {
			st.MarkComplete()
			w.WriteHeader(http.StatusAccepted)
			return nil
		}),
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", nil))
	reg.wg.Wait()

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, ran.Load())
	assert.Equal(t, 1, logs.FilterMessage("async complete, skipping deferred handler").Len())
}

func TestAckErrorCancelsDeferredWork(t *testing.T) {
	var gotErr error
	reg, _ := newObservedRegistry(t, WithErrorWriter(func(w http.ResponseWriter, _ *http.Request, err error) {
		gotErr = err
		http.Error(w, err.Error(), http.StatusBadRequest)
	}))
	var ran atomic.Bool

	r := mount(t, reg, http.MethodPost, "/unitofwork",
		func(context.Context, *http.Request, *State) error { ran.Store(true); return nil },
		WithAck(func(http.ResponseWriter, *http.Request, *State) error { return errors.New("bad payload") }),
	)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", nil))
	reg.wg.Wait()

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualError(t, gotErr, "bad payload")
	assert.False(t, ran.Load())
}

func TestSynchronousRouteIsUntouched(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	r := chi.NewRouter()
	r.Use(reg.Middleware())

	var seen *State
	r.Get("/accounts", func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"001"}]`))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"001"}]`, rec.Body.String())
	require.NotNil(t, seen)
	assert.Equal(t, StatusNotApplicable, seen.Status())
	assert.False(t, seen.Async())

	// The hook finds no entry for the route and does nothing.
	reg.Dispatch(context.Background(), seen)
	assert.Equal(t, StatusNotApplicable, seen.Status())
}

func TestDeferredFailuresAreContained(t *testing.T) {
	id := NewRouteID(http.MethodPost, "/unitofwork")

	t.Run("error", func(t *testing.T) {
		reg, logs := newObservedRegistry(t)
		_, err := reg.Register(id, func(context.Context, *http.Request, *State) error {
			return errors.New("commit failed")
		})
		require.NoError(t, err)

		st := boundState(id)
		reg.Dispatch(context.Background(), st)

		assert.Equal(t, StatusComplete, st.Status())
		assert.EqualError(t, st.Err(), "commit failed")
		assert.Equal(t, 1, logs.FilterMessage("deferred handler failed").Len())
	})

	t.Run("panic", func(t *testing.T) {
		reg, logs := newObservedRegistry(t)
		_, err := reg.Register(id, func(context.Context, *http.Request, *State) error {
			panic("boom")
		})
		require.NoError(t, err)

		st := boundState(id)
		assert.NotPanics(t, func() { reg.Dispatch(context.Background(), st) })
		assert.Equal(t, StatusComplete, st.Status())
		assert.ErrorContains(t, st.Err(), "boom")
		assert.Equal(t, 1, logs.FilterMessage("deferred handler panicked").Len())
	})
}

func TestDeferredTimeout(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	id := NewRouteID(http.MethodPost, "/slow")
	_, err := reg.Register(id, func(ctx context.Context, _ *http.Request, _ *State) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	st := boundState(id)
	reg.Dispatch(context.Background(), st)
	assert.ErrorIs(t, st.Err(), context.DeadlineExceeded)
}

func TestDeferredHandlerSeesAcknowledgedRequest(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	type key struct{}
	var body string
	var val any

	r := chi.NewRouter()
	r.Use(reg.Middleware())
	ack, err := reg.Register(NewRouteID(http.MethodPost, "/unitofwork"), func(ctx context.Context, r *http.Request, st *State) error {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		body = string(b)
		val = ctx.Value(key{})
		return nil
	})
	require.NoError(t, err)
	r.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), key{}, "org-1")))
		})
	}).Post("/unitofwork", ack)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(`{"data":{}}`)))
	reg.wg.Wait()

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"data":{}}`, body)
	assert.Equal(t, "org-1", val)
}

func TestCompletionNotification(t *testing.T) {
	var got []Completion
	var mu sync.Mutex
	reg, _ := newObservedRegistry(t, WithNotifier(NotifierFunc(func(_ context.Context, c Completion) error {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
		return nil
	})))
	id := NewRouteID(http.MethodPost, "/unitofwork")
	_, err := reg.Register(id, func(_ context.Context, _ *http.Request, st *State) error {
		st.Annotate("orgId", "00Dxx0000000000EA2")
		return errors.New("callback refused")
	}, WithTopic("applink.completions"))
	require.NoError(t, err)

	reg.Dispatch(context.Background(), boundState(id))

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "applink.completions", c.Topic)
	assert.Equal(t, "POST /unitofwork", c.Route)
	assert.Equal(t, OutcomeError, c.Outcome)
	assert.Equal(t, "callback refused", c.Error)
	assert.Equal(t, "00Dxx0000000000EA2", c.Attrs["orgId"])
	assert.NotEmpty(t, c.JobID)
	assert.False(t, c.FinishedAt.Before(c.StartedAt))
}

func TestAckWithoutMiddlewareRefuses(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	ack, err := reg.Register(NewRouteID(http.MethodPost, "/unitofwork"), func(context.Context, *http.Request, *State) error { return nil })
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	ack(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestShutdownCancelsHangingHandlers(t *testing.T) {
	reg, _ := newObservedRegistry(t)
	var cancelled atomic.Bool
	r := mount(t, reg, http.MethodPost, "/hang", func(ctx context.Context, _ *http.Request, _ *State) error {
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hang", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, reg.Shutdown(ctx), context.DeadlineExceeded)

	reg.wg.Wait()
	assert.True(t, cancelled.Load())
}

func TestRouteID(t *testing.T) {
	id := NewRouteID(" post ", "/unitofwork")
	assert.Equal(t, "POST /unitofwork", id.String())
	assert.False(t, id.IsZero())
	assert.True(t, RouteID{}.IsZero())

	_, err := NewRegistry(nil).Register(RouteID{}, func(context.Context, *http.Request, *State) error { return nil })
	assert.Error(t, err)
}

func TestOversizedBodyIsRefusedWithoutDeferredWork(t *testing.T) {
	reg, _ := newObservedRegistry(t, WithMaxBodyBytes(8))
	var ran atomic.Int32
	r := mount(t, reg, http.MethodPost, "/unitofwork", func(context.Context, *http.Request, *State) error {
		ran.Add(1)
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(`{"data":"far too long"}`))
	req.ContentLength = -1 // chunked
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	reg.wg.Wait()

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, ran.Load())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(`{}`)))
	reg.wg.Wait()
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, ran.Load())
}
