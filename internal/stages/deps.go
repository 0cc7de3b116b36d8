package stages

import (
	"context"
	"time"

	"lectern/internal/chunker"
	"lectern/internal/config"
)

// TextGenerator produces text from a system and a user prompt.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	ModelName() string
}

// Transcriber turns a recording into plain transcript text.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
	TranscriptionModel() string
}

// SlideReader extracts the text of one slide image.
type SlideReader interface {
	ReadSlide(ctx context.Context, imagePath string) (string, error)
	VisionModel() string
}

// Deps are the collaborators and settings shared by the builtin stages.
type Deps struct {
	Text        TextGenerator
	Transcriber Transcriber
	Slides      SlideReader
	Prompts     Prompts

	StageTimeout     time.Duration
	ChunkMaxWords    int
	SlideConcurrency int
	// CleanSegmentWords bounds the transcript slice sent per clean request.
	CleanSegmentWords int
}

const (
	defaultSlideConcurrency  = 4
	defaultCleanSegmentWords = 2500
)

// DepsFromConfig fills settings from cfg; collaborators are left to the caller.
func DepsFromConfig(cfg *config.Config) Deps {
	d := Deps{Prompts: DefaultPrompts()}
	if cfg != nil {
		d.StageTimeout = cfg.StageTimeout()
		d.ChunkMaxWords = cfg.Pipeline.ChunkMaxWords
		d.SlideConcurrency = cfg.Pipeline.SlideConcurrency
	}
	return d
}

func (d Deps) normalized() Deps {
	if d.ChunkMaxWords <= 0 {
		d.ChunkMaxWords = chunker.DefaultMaxWords
	}
	if d.SlideConcurrency <= 0 {
		d.SlideConcurrency = defaultSlideConcurrency
	}
	if d.CleanSegmentWords <= 0 {
		d.CleanSegmentWords = defaultCleanSegmentWords
	}
	d.Prompts = d.Prompts.withDefaults()
	return d
}
