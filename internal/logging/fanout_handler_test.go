package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerNilHandlers(t *testing.T) {
	h := newFanoutHandler(nil, nil)
	if _, ok := h.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler for all nil handlers, got %T", h)
	}
}

func TestNewFanoutHandlerFiltersNil(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Error("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("stage", "clean")
	logger.Debug("detail")
	logger.Info("summary")

	if strings.Contains(infoBuf.String(), "detail") {
		t.Errorf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(debugBuf.String(), "detail") || !strings.Contains(debugBuf.String(), "summary") {
		t.Errorf("debug handler missing records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"stage":"clean"`) {
		t.Errorf("attrs not propagated: %s", infoBuf.String())
	}
}

func TestFanoutHandlerEnabledWhenAnyAccepts(t *testing.T) {
	var a, b bytes.Buffer
	h := newFanoutHandler(
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("expected warn to be enabled")
	}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled")
	}
}
