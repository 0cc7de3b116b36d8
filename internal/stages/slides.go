package stages

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// SlidesStage reads the text of slide images found next to the recording.
// It is optional and runs alongside the transcript chain.
type SlidesStage struct {
	pipeline.Descriptor
	client      SlideReader
	concurrency int
	timeout     time.Duration
}

// NewSlides builds the slides stage.
func NewSlides(client SlideReader, concurrency int, timeout time.Duration) *SlidesStage {
	if concurrency <= 0 {
		concurrency = defaultSlideConcurrency
	}
	return &SlidesStage{
		Descriptor: pipeline.Descriptor{
			ID:         pipeline.StageSlides,
			Deps:       []pipeline.StageName{pipeline.StageParse},
			IsOptional: true,
		},
		client:      client,
		concurrency: concurrency,
		timeout:     timeout,
	}
}

// ShouldSkip skips runs without slide material.
func (s *SlidesStage) ShouldSkip(pctx *pipeline.Context) bool {
	return len(SlideImages(parseResult(pctx).SlidesPath)) == 0
}

func (s *SlidesStage) Concurrent() bool { return true }

func (s *SlidesStage) DefaultResult() any { return Slides{Pages: []string{}} }

func (s *SlidesStage) ModelName() string {
	if s.client == nil {
		return ""
	}
	return s.client.VisionModel()
}

func (s *SlidesStage) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	if s.client == nil {
		return nil, services.Wrap(services.ErrConfiguration, string(s.ID), "read slides", "no vision client configured", nil)
	}
	images := SlideImages(parseResult(pctx).SlidesPath)
	pages := make([]string, len(images))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, image := range images {
		g.Go(func() error {
			callCtx, cancel := withTimeout(gctx, s.timeout)
			defer cancel()
			text, err := s.client.ReadSlide(callCtx, image)
			if err != nil {
				return callError(gctx, s.ID, fmt.Sprintf("read slide %d", i+1), err)
			}
			pages[i] = text
			n := done.Add(1)
			report(float64(n)/float64(len(images)), fmt.Sprintf("Read slide %d of %d", n, len(images)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Slides{Pages: pages}, nil
}
