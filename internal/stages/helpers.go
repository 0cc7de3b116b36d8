package stages

import (
	"context"
	"errors"
	"strings"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/services"
	"lectern/internal/textutil"
)

// withTimeout bounds one external call. A zero timeout leaves ctx unchanged.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// callError classifies the failure of an external call made by stage.
func callError(parent context.Context, stage pipeline.StageName, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return services.Wrap(services.ErrTimeout, string(stage), op, "exceeded stage timeout", err)
	}
	if parent.Err() != nil {
		return err
	}
	return services.Wrap(services.ErrExternalTool, string(stage), op, "", err)
}

// require decodes a dependency result that must be present.
func require[T any](pctx *pipeline.Context, stage, dep pipeline.StageName) (T, error) {
	value, ok, err := pipeline.Decode[T](pctx, dep)
	if err != nil {
		return value, services.Wrap(services.ErrValidation, string(stage), "read "+string(dep), "", err)
	}
	if !ok {
		return value, services.Wrap(services.ErrValidation, string(stage), "read "+string(dep), "missing "+string(dep)+" result", nil)
	}
	return value, nil
}

// parseResult returns the parse output, or metadata synthesized from the run
// when parse did not run.
func parseResult(pctx *pipeline.Context) ParseResult {
	meta, ok, err := pipeline.Decode[ParseResult](pctx, pipeline.StageParse)
	if err != nil || !ok {
		return ParseResult{SourcePath: pctx.Meta().SourcePath}
	}
	return meta
}

// segments groups paragraphs into slices of at most maxWords words. A single
// oversize paragraph forms its own slice.
func segments(text string, maxWords int) []string {
	paragraphs := textutil.SplitParagraphs(text)
	var (
		out     []string
		current []string
		count   int
	)
	for _, p := range paragraphs {
		words := textutil.CountWords(p)
		if len(current) > 0 && count+words > maxWords {
			out = append(out, strings.Join(current, "\n\n"))
			current, count = nil, 0
		}
		current = append(current, p)
		count += words
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, "\n\n"))
	}
	return out
}

func nonEmpty(stage pipeline.StageName, op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, string(stage), op, "model returned empty output", nil)
	}
	return text, nil
}
