package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrCanceled      = errors.New("canceled")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the classified view of an error used by logs and API payloads.
type ErrorDetails struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Details classifies err by its marker and attaches an operator hint.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Message: err.Error()}
	switch {
	case errors.Is(err, ErrConfiguration):
		details.Kind = "configuration"
		details.Hint = "check config.toml and the registered stage graph"
	case errors.Is(err, ErrValidation):
		details.Kind = "validation"
		details.Hint = "inspect the recording and its stage inputs"
	case errors.Is(err, ErrNotFound):
		details.Kind = "not_found"
		details.Hint = "verify the archive path and cached versions"
	case errors.Is(err, ErrTimeout):
		details.Kind = "timeout"
		details.Hint = "raise pipeline.stage_timeout_seconds or retry the run with cache reuse"
	case errors.Is(err, ErrCanceled):
		details.Kind = "canceled"
	case errors.Is(err, ErrExternalTool):
		details.Kind = "external"
		details.Hint = "check provider credentials and availability, then re-run with cache reuse"
	default:
		details.Kind = "transient"
		details.Hint = "re-run with cache reuse to resume after the failed stage"
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
