package dispatch

import (
	"context"
	"time"
)

// Completion describes a finished unit of deferred work.
type Completion struct {
	JobID      string            `json:"jobId"`
	Topic      string            `json:"-"`
	Route      string            `json:"route"`
	RequestID  string            `json:"requestId,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
}

// Notifier publishes completions for routes that declare a topic.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Completion) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c Completion) error

func (f NotifierFunc) Notify(ctx context.Context, c Completion) error { return f(ctx, c) }
