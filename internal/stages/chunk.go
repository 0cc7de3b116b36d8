package stages

import (
	"context"
	"fmt"

	"lectern/internal/chunker"
	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// ChunkStage splits whichever document the run produced into topic chunks.
type ChunkStage struct {
	pipeline.Descriptor
	maxWords int
}

// NewChunk builds the chunk stage.
func NewChunk(maxWords int) *ChunkStage {
	return &ChunkStage{
		Descriptor: pipeline.Descriptor{
			ID:   pipeline.StageChunk,
			Deps: []pipeline.StageName{pipeline.StageLongread, pipeline.StageStory},
		},
		maxWords: maxWords,
	}
}

func (s *ChunkStage) ShouldSkip(*pipeline.Context) bool { return false }

func (s *ChunkStage) Execute(_ context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	doc, source, err := chunkSource(pctx)
	if err != nil {
		return nil, err
	}
	chunks := chunker.Split(doc.Markdown, s.maxWords)
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "split", string(source)+" document has no content", nil)
	}
	report(1, fmt.Sprintf("%d chunks from %s", len(chunks), source))
	return chunks, nil
}

// chunkSource prefers the longread and falls back to the story.
func chunkSource(pctx *pipeline.Context) (Document, pipeline.StageName, error) {
	for _, name := range []pipeline.StageName{pipeline.StageLongread, pipeline.StageStory} {
		doc, ok, err := pipeline.Decode[Document](pctx, name)
		if err != nil {
			return Document{}, name, services.Wrap(services.ErrValidation, string(pipeline.StageChunk), "read "+string(name), "", err)
		}
		if ok {
			return doc, name, nil
		}
	}
	return Document{}, "", services.Wrap(services.ErrValidation, string(pipeline.StageChunk), "select document", "neither longread nor story ran", nil)
}
