package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-applink/pkg/codec"
	"go.uber.org/zap"
)

// HTTPError is an error that knows its response status.
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Errorf builds an HTTPError with a formatted client-facing message.
func Errorf(status int, format string, args ...any) *HTTPError {
	return &HTTPError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches status to err, keeping err for errors.Is/As.
func WrapError(status int, err error) *HTTPError {
	return &HTTPError{Status: status, Err: err}
}

// ErrorBody is the JSON shape of every error answer.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) && he.Status > 0 {
		return he.Status
	}
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ErrorWriter returns the error responder used by routes and the async
// registry. Server errors are logged; client errors are not.
func ErrorWriter(log *zap.Logger) func(http.ResponseWriter, *http.Request, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		status := StatusOf(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("requestId", chimd.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("uri", r.URL.Path),
				zap.Error(err),
			)
		}
		writeError(w, status, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	b, _ := codec.JSONLenient.Marshal(ErrorBody{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    msg,
	})
	writeJSON(w, b, status)
}

func writeJSON(w http.ResponseWriter, payload []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) > 0 {
		_, _ = w.Write(payload)
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	b, err := codec.JSONLenient.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	writeJSON(w, b, status)
	return nil
}
