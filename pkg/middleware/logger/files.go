package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func logDir() string {
	dir := os.Getenv("LOG_DIR")
	if dir == "" {
		dir = "log"
	}
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

func logLevel() zapcore.Level {
	if lvl, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		return lvl
	}
	return zap.InfoLevel
}

// NewLog returns a logger writing JSON to a rolling file under LOG_DIR and
// to stdout.
func NewLog(n string) *zap.Logger {
	return newLog(n, zap.NewProductionEncoderConfig())
}

func newLog(n string, cfg zapcore.EncoderConfig) *zap.Logger {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir(), n),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	})
	console := zapcore.Lock(os.Stdout)
	lvl := logLevel()

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), console, lvl),
	)
	return zap.New(core)
}

var (
	accessOnce       sync.Once
	httpAccessLogger *zap.Logger
)

// accessLog is the shared access logger. Access lines carry no message.
func accessLog() *zap.Logger {
	accessOnce.Do(func() {
		if httpAccessLogger != nil {
			return
		}
		cfg := zap.NewProductionEncoderConfig()
		cfg.MessageKey = zapcore.OmitKey
		httpAccessLogger = newLog("http-access.log", cfg)
	})
	return httpAccessLogger
}

// SetAccessLogger lets tests/CLIs override the access logger (optional).
func SetAccessLogger(l *zap.Logger) {
	if l != nil {
		httpAccessLogger = l
	}
}
