package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTeeHandlerCollapses(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(noopHandler); !ok {
		t.Fatal("expected noopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newTeeHandler(nil, inner); h != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeLoggerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	debug := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := TeeLogger(base, debug).With("world", "survival")
	logger.Debug("scan detail")
	logger.Info("cycle done")

	if strings.Contains(infoBuf.String(), "scan detail") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "cycle done") || !strings.Contains(debugBuf.String(), "cycle done") {
		t.Fatal("expected info record in both handlers")
	}
	if !strings.Contains(debugBuf.String(), "scan detail") || !strings.Contains(debugBuf.String(), "world=survival") {
		t.Fatalf("unexpected debug output: %s", debugBuf.String())
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected tee to be enabled for debug")
	}
}
