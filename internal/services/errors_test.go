package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"lectern/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcribe", "generate", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "generate", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestDetailsClassifiesMarkers(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{services.Wrap(services.ErrConfiguration, "registry", "resolve", "cycle", nil), "configuration"},
		{services.Wrap(services.ErrValidation, "parse", "", "empty path", nil), "validation"},
		{services.Wrap(services.ErrTimeout, "transcribe", "", "", nil), "timeout"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrExternalTool, "clean", "", "", nil)), "external"},
		{errors.New("plain"), "transient"},
	}
	for _, tc := range cases {
		if got := services.Details(tc.err).Kind; got != tc.kind {
			t.Fatalf("Details(%v).Kind = %q, want %q", tc.err, got, tc.kind)
		}
	}
	if details := services.Details(nil); details.Kind != "" || details.Message != "" {
		t.Fatalf("expected empty details for nil error, got %+v", details)
	}
}
