package responder

import (
	"context"
	"log/slog"
)

// Failed stands in for a responder whose construction failed. Every turn
// yields a single error event.
type Failed struct {
	Err     error
	Message string
}

// NewFailed builds a Failed responder with a user-readable message.
func NewFailed(err error, message string) *Failed {
	if message == "" {
		message = "応答エンジンの初期化に失敗しました。しばらくしてから再度お試しください。"
	}
	return &Failed{Err: err, Message: message}
}

// Stream implements Responder.
func (f *Failed) Stream(ctx context.Context, _ Request) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		slog.Warn("Responder unavailable", "error", f.Err)
		emitter{ctx: ctx, out: out}.send(ErrorEvent(f.Message))
	}()
	return out
}
