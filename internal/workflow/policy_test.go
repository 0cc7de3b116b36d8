package workflow_test

import (
	"errors"
	"testing"

	"lectern/internal/pipeline"
	"lectern/internal/services"
	"lectern/internal/workflow"
)

func TestParseVersionPin(t *testing.T) {
	name, version, err := workflow.ParseVersionPin("clean:3")
	if err != nil {
		t.Fatalf("ParseVersionPin: %v", err)
	}
	if name != pipeline.StageClean || version != 3 {
		t.Fatalf("got %s:%d", name, version)
	}

	for _, bad := range []string{"clean", "clean:0", "clean:x", "bogus:1", ":2"} {
		if _, _, err := workflow.ParseVersionPin(bad); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("ParseVersionPin(%q) err = %v, want validation error", bad, err)
		}
	}
}
