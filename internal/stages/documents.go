package stages

import (
	"context"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// Longread writes the long-form article for educational talks.
type Longread struct {
	pipeline.Descriptor
	client  TextGenerator
	prompt  string
	timeout time.Duration
}

// NewLongread builds the longread stage.
func NewLongread(client TextGenerator, prompt string, timeout time.Duration) *Longread {
	return &Longread{
		Descriptor: pipeline.Descriptor{
			ID:   pipeline.StageLongread,
			Deps: []pipeline.StageName{pipeline.StageClean, pipeline.StageSlides},
		},
		client:  client,
		prompt:  prompt,
		timeout: timeout,
	}
}

func (s *Longread) ShouldSkip(pctx *pipeline.Context) bool {
	return pctx.ContentType() == pipeline.ContentLeadership
}

func (s *Longread) ModelName() string { return textModel(s.client) }

func (s *Longread) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	cleaned, err := require[CleanedTranscript](pctx, s.ID, pipeline.StageClean)
	if err != nil {
		return nil, err
	}
	// Slides are optional: absent when skipped, empty when they failed.
	slides, _, err := pipeline.Decode[Slides](pctx, pipeline.StageSlides)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "read slides", "", err)
	}
	meta := parseResult(pctx)
	report(0.1, "Writing longread")
	text, err := generateText(ctx, s.client, s.ID, s.prompt, longreadUserPrompt(meta, cleaned.Text, slides.Pages), s.timeout)
	if err != nil {
		return nil, err
	}
	return Document{Title: meta.Title, Markdown: text}, nil
}

// Summarize condenses the longread.
type Summarize struct {
	pipeline.Descriptor
	client  TextGenerator
	prompt  string
	timeout time.Duration
}

// NewSummarize builds the summarize stage.
func NewSummarize(client TextGenerator, prompt string, timeout time.Duration) *Summarize {
	return &Summarize{
		Descriptor: pipeline.Descriptor{ID: pipeline.StageSummarize, Deps: []pipeline.StageName{pipeline.StageLongread}},
		client:     client,
		prompt:     prompt,
		timeout:    timeout,
	}
}

func (s *Summarize) ShouldSkip(pctx *pipeline.Context) bool {
	return pctx.ContentType() == pipeline.ContentLeadership
}

func (s *Summarize) ModelName() string { return textModel(s.client) }

func (s *Summarize) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	doc, err := require[Document](pctx, s.ID, pipeline.StageLongread)
	if err != nil {
		return nil, err
	}
	report(0.1, "Summarizing")
	text, err := generateText(ctx, s.client, s.ID, s.prompt, doc.Markdown, s.timeout)
	if err != nil {
		return nil, err
	}
	return Summary{Markdown: text}, nil
}

// Story writes the first-person narrative for leadership talks.
type Story struct {
	pipeline.Descriptor
	client  TextGenerator
	prompt  string
	timeout time.Duration
}

// NewStory builds the story stage.
func NewStory(client TextGenerator, prompt string, timeout time.Duration) *Story {
	return &Story{
		Descriptor: pipeline.Descriptor{ID: pipeline.StageStory, Deps: []pipeline.StageName{pipeline.StageClean}},
		client:     client,
		prompt:     prompt,
		timeout:    timeout,
	}
}

func (s *Story) ShouldSkip(pctx *pipeline.Context) bool {
	return pctx.ContentType() == pipeline.ContentEducational
}

func (s *Story) ModelName() string { return textModel(s.client) }

func (s *Story) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	cleaned, err := require[CleanedTranscript](pctx, s.ID, pipeline.StageClean)
	if err != nil {
		return nil, err
	}
	meta := parseResult(pctx)
	report(0.1, "Writing story")
	text, err := generateText(ctx, s.client, s.ID, s.prompt, storyUserPrompt(meta, cleaned.Text), s.timeout)
	if err != nil {
		return nil, err
	}
	return Document{Title: meta.Title, Markdown: text}, nil
}

func generateText(ctx context.Context, client TextGenerator, stage pipeline.StageName, system, user string, timeout time.Duration) (string, error) {
	if client == nil {
		return "", services.Wrap(services.ErrConfiguration, string(stage), "generate", "no text client configured", nil)
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	text, err := client.Generate(callCtx, system, user)
	if err != nil {
		return "", callError(ctx, stage, "generate", err)
	}
	return nonEmpty(stage, "generate", text)
}
