package logger

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a, err := auth.New(auth.Config{DevBypass: true}, nil)
	require.NoError(t, err)

	var seen string
	h := a.Middleware()(NewMiddleware(zap.New(core)).Middleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusCreated)
	})))

	body := `{"data":{"accountName":"Acme"}}`
	r := httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Dev-User", "dev@example.com")
	r.Header.Set("X-Dev-Org", "00Ddev")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, body, seen, "body must be restored for the handler")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
	assert.Equal(t, "dev@example.com", fields["username"])
	assert.Equal(t, "00Ddev", fields["orgId"])
	assert.Equal(t, true, fields["isAuthenticated"])
	assert.Equal(t, body, fields["requestData"])

	r = httptest.NewRequest(http.MethodGet, "/accounts", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)
	require.Equal(t, 2, logs.Len())
	fields = logs.All()[1].ContextMap()
	assert.NotContains(t, fields, "requestData")
	assert.Equal(t, false, fields["isAuthenticated"])
}

func TestBodyAllowlist(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/custom", nil)
	r.Header.Set("Content-Type", "application/json")
	assert.False(t, bodyLoggable(r))

	AddBodyLogPaths(" /custom ", "")
	assert.True(t, bodyLoggable(r))
	assert.False(t, shouldLogBody(r, nil))
	assert.True(t, shouldLogBody(r, []byte(`{}`)))

	r.Header.Set("Content-Type", "application/pdf")
	assert.False(t, bodyLoggable(r))
}

func TestChunkedBodyOverLimitIsNotBuffered(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	var seen int
	h := NewMiddleware(zap.New(core)).Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = len(b)
		w.WriteHeader(http.StatusCreated)
	}))

	big := `{"data":"` + strings.Repeat("x", maxLoggedBody) + `"}`
	r := httptest.NewRequest(http.MethodPost, "/unitofwork", strings.NewReader(big))
	r.Header.Set("Content-Type", "application/json")
	r.ContentLength = -1 // chunked
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, len(big), seen, "handler still reads the whole body")
	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "requestData")
}
