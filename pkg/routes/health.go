package routes

import (
	"io"
	"net/http"
)

// healthcheck is polled by the AppLink service mesh.
func healthcheck(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err := io.WriteString(w, "OK")
	return err
}
