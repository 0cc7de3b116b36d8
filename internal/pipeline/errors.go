package pipeline

import (
	"fmt"
	"strings"

	"lectern/internal/services"
)

// ConfigError reports a malformed stage graph: duplicate names, unknown
// references, or cycles. It surfaces before any stage runs.
type ConfigError struct {
	Op     string
	Stages []StageName
	Reason string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("stage graph")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Stages) > 0 {
		names := make([]string, len(e.Stages))
		for i, s := range e.Stages {
			names[i] = string(s)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Unwrap lets errors.Is match services.ErrConfiguration.
func (e *ConfigError) Unwrap() error { return services.ErrConfiguration }

func configError(op, reason string, stages ...StageName) *ConfigError {
	return &ConfigError{Op: op, Reason: reason, Stages: stages}
}

// PipelineError is the only error that crosses the run boundary for a
// mandatory stage failure.
type PipelineError struct {
	Stage StageName
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }
