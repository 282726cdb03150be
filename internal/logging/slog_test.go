package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "resolving nested reference", "id", 7)
	log.Info(ctx, "unit prepared", "id", 10)
	log.Warn(ctx, "peer unreachable", "addr", "example.com")
	log.Error(ctx, "import failed", "unit", 10)

	out := buf.String()

	for _, want := range []string{
		"level=DEBUG", "resolving nested reference", "id=7",
		"level=INFO", "unit prepared", "id=10",
		"level=WARN", "peer unreachable", "addr=example.com",
		"level=ERROR", "import failed", "unit=10",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t)

	child := log.With("node", 2)
	child.Info(context.Background(), "importing")

	out := buf.String()
	if !strings.Contains(out, "node=2") || !strings.Contains(out, "importing") {
		t.Errorf("child logger missing inherited attrs: %s", out)
	}
}
