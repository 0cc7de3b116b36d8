package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// Clean removes filler and transcription noise. Long transcripts are sent in
// paragraph-aligned segments, one request each, in order.
type Clean struct {
	pipeline.Descriptor
	client       TextGenerator
	prompt       string
	segmentWords int
	timeout      time.Duration
}

// NewClean builds the clean stage.
func NewClean(client TextGenerator, prompt string, segmentWords int, timeout time.Duration) *Clean {
	return &Clean{
		Descriptor:   pipeline.Descriptor{ID: pipeline.StageClean, Deps: []pipeline.StageName{pipeline.StageTranscribe}},
		client:       client,
		prompt:       prompt,
		segmentWords: segmentWords,
		timeout:      timeout,
	}
}

func (s *Clean) ShouldSkip(*pipeline.Context) bool { return false }

func (s *Clean) ModelName() string { return textModel(s.client) }

func (s *Clean) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	if s.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(s.ID), "clean", "no text client configured", nil)
	}
	transcript, err := require[Transcript](pctx, s.ID, pipeline.StageTranscribe)
	if err != nil {
		return nil, err
	}
	parts := segments(transcript.Text, s.segmentWords)
	if len(parts) == 0 {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "clean", "transcript is empty", nil)
	}

	cleaned := make([]string, 0, len(parts))
	for i, part := range parts {
		text, err := s.generate(ctx, cleanUserPrompt(part, i, len(parts)))
		if err != nil {
			return nil, err
		}
		cleaned = append(cleaned, text)
		report(float64(i+1)/float64(len(parts)), fmt.Sprintf("Cleaned segment %d of %d", i+1, len(parts)))
	}
	return CleanedTranscript{Text: strings.Join(cleaned, "\n\n")}, nil
}

func (s *Clean) generate(ctx context.Context, user string) (string, error) {
	callCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.client.Generate(callCtx, s.prompt, user)
	if err != nil {
		return "", callError(ctx, s.ID, "generate", err)
	}
	return nonEmpty(s.ID, "generate", text)
}

func textModel(client TextGenerator) string {
	if client == nil {
		return ""
	}
	return client.ModelName()
}
