package stages

import (
	"context"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// Transcribe sends the recording to the transcription model.
type Transcribe struct {
	pipeline.Descriptor
	client  Transcriber
	timeout time.Duration
}

// NewTranscribe builds the transcribe stage.
func NewTranscribe(client Transcriber, timeout time.Duration) *Transcribe {
	return &Transcribe{
		Descriptor: pipeline.Descriptor{ID: pipeline.StageTranscribe, Deps: []pipeline.StageName{pipeline.StageParse}},
		client:     client,
		timeout:    timeout,
	}
}

func (s *Transcribe) ShouldSkip(*pipeline.Context) bool { return false }

func (s *Transcribe) ModelName() string {
	if s.client == nil {
		return ""
	}
	return s.client.TranscriptionModel()
}

func (s *Transcribe) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	if s.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(s.ID), "transcribe", "no transcription client configured", nil)
	}
	meta := parseResult(pctx)
	if meta.SourcePath == "" {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "transcribe", "recording path unknown", nil)
	}
	report(0.05, "Uploading recording")

	callCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.client.Transcribe(callCtx, meta.SourcePath)
	if err != nil {
		return nil, callError(ctx, s.ID, "transcribe", err)
	}
	text, err = nonEmpty(s.ID, "transcribe", text)
	if err != nil {
		return nil, err
	}
	return Transcript{Text: text, Model: s.ModelName()}, nil
}
