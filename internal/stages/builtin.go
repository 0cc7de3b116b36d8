package stages

import "lectern/internal/pipeline"

// NewRegistry registers the builtin catalogue. Slides registers right after
// parse so the scheduler starts it before the transcript chain.
func NewRegistry(deps Deps) (*pipeline.Registry, error) {
	d := deps.normalized()
	reg := pipeline.NewRegistry()
	for _, stage := range []pipeline.Stage{
		NewParse(),
		NewSlides(d.Slides, d.SlideConcurrency, d.StageTimeout),
		NewTranscribe(d.Transcriber, d.StageTimeout),
		NewClean(d.Text, d.Prompts.Clean, d.CleanSegmentWords, d.StageTimeout),
		NewLongread(d.Text, d.Prompts.Longread, d.StageTimeout),
		NewSummarize(d.Text, d.Prompts.Summarize, d.StageTimeout),
		NewStory(d.Text, d.Prompts.Story, d.StageTimeout),
		NewChunk(d.ChunkMaxWords),
	} {
		if err := reg.Register(stage); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
