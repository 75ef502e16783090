package observability

import (
	"context"
	"testing"
)

func TestLoggerFrom(t *testing.T) {
	fallback := NewNopLogger()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger for a bare context")
	}

	scoped := fallback.WithField("request_id", "r1")
	ctx := ContextWithLogger(context.Background(), scoped)
	if got := LoggerFrom(ctx, fallback); got != scoped {
		t.Error("expected request-scoped logger")
	}
}

func TestNewLoggerWithLevel_IgnoresUnknownLevel(t *testing.T) {
	l := NewLoggerWithLevel("verbose").(*logrusLogger)
	if l.logger.GetLevel().String() != "info" {
		t.Errorf("expected default info level, got %s", l.logger.GetLevel())
	}
}
