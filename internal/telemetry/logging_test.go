package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLoggerContextRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("context should return the stored logger")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should fall back to the default logger")
	}
}
