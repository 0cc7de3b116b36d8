package preflight_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"lectern/internal/config"
	"lectern/internal/preflight"
	"lectern/internal/services"
	"lectern/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail, got %+v", result)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer srv.Close()

	good := preflight.CheckLLM(context.Background(), "OpenRouter", config.LLM{APIKey: "good-key", BaseURL: srv.URL, Model: "m"})
	if !good.Passed {
		t.Fatalf("expected pass, got: %s", good.Detail)
	}
	bad := preflight.CheckLLM(context.Background(), "OpenRouter", config.LLM{APIKey: "bad-key", BaseURL: srv.URL, Model: "m"})
	if bad.Passed {
		t.Fatal("expected failure for bad key")
	}
	missing := preflight.CheckLLM(context.Background(), "OpenRouter", config.LLM{BaseURL: srv.URL})
	if missing.Passed || missing.Detail != "API key missing" {
		t.Fatalf("missing key result = %+v", missing)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil, preflight.Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_OfflinePasses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := preflight.RunAll(context.Background(), cfg, preflight.Options{SkipProviders: true})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if err := preflight.Err(results); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if passed, failed := preflight.Summary(results); passed != 4 || failed != 0 {
		t.Fatalf("summary = %d/%d", passed, failed)
	}
}

func TestErrOnlyCountsCriticalFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Gemini.APIKey = ""
	results := preflight.RunAll(context.Background(), cfg, preflight.Options{SkipProviders: true})
	if err := preflight.Err(results); err != nil {
		t.Fatalf("missing credentials should not block startup: %v", err)
	}

	cfg.Paths.ArchiveRoot = filepath.Join(t.TempDir(), "absent")
	results = preflight.RunAll(context.Background(), cfg, preflight.Options{SkipProviders: true})
	err := preflight.Err(results)
	if err == nil || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
