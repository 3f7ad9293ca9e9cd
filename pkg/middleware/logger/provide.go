package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// ProvideLoggerMiddleware also applies LOG_BODY_PATHS (comma separated).
func ProvideLoggerMiddleware() *Middleware {
	if v := os.Getenv("LOG_BODY_PATHS"); v != "" {
		AddBodyLogPaths(strings.Split(v, ",")...)
	}
	return &Middleware{}
}

// NewMiddleware logs to l instead of the shared access log.
func NewMiddleware(l *zap.Logger) *Middleware { return &Middleware{log: l} }

func ProvideLogger() *zap.Logger { return NewLog("system.log") }
