package workflow_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/resultcache"
	"lectern/internal/testsupport"
	"lectern/internal/workflow"
)

type execFunc func(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error)

type fakeStage struct {
	pipeline.Descriptor
	concurrent bool
	model      string
	fallback   any
	skip       func(*pipeline.Context) bool
	exec       execFunc
	journal    *journal
}

func (s *fakeStage) ShouldSkip(pctx *pipeline.Context) bool {
	if s.skip == nil {
		return false
	}
	return s.skip(pctx)
}

func (s *fakeStage) Execute(ctx context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	if s.journal != nil {
		s.journal.add(s.ID)
	}
	if s.exec != nil {
		return s.exec(ctx, pctx, report)
	}
	return map[string]string{"stage": string(s.ID)}, nil
}

func (s *fakeStage) Concurrent() bool   { return s.concurrent }
func (s *fakeStage) ModelName() string  { return s.model }
func (s *fakeStage) DefaultResult() any { return s.fallback }

// journal records executed stages in call order.
type journal struct {
	mu    sync.Mutex
	calls []pipeline.StageName
}

func (j *journal) add(name pipeline.StageName) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, name)
}

func (j *journal) names() []pipeline.StageName {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]pipeline.StageName(nil), j.calls...)
}

func (j *journal) count(name pipeline.StageName) int {
	n := 0
	for _, c := range j.names() {
		if c == name {
			n++
		}
	}
	return n
}

func newStage(j *journal, name pipeline.StageName, deps ...pipeline.StageName) *fakeStage {
	return &fakeStage{Descriptor: pipeline.Descriptor{ID: name, Deps: deps}, journal: j}
}

// linearStages is parse -> transcribe -> clean -> chunk.
func linearStages(j *journal) map[pipeline.StageName]*fakeStage {
	return map[pipeline.StageName]*fakeStage{
		pipeline.StageParse:      newStage(j, pipeline.StageParse),
		pipeline.StageTranscribe: newStage(j, pipeline.StageTranscribe, pipeline.StageParse),
		pipeline.StageClean:      newStage(j, pipeline.StageClean, pipeline.StageTranscribe),
		pipeline.StageChunk:      newStage(j, pipeline.StageChunk, pipeline.StageClean),
	}
}

// registryOf registers stages in the given order, or in catalogue order when
// none is given.
func registryOf(t *testing.T, stages map[pipeline.StageName]*fakeStage, order ...pipeline.StageName) *pipeline.Registry {
	t.Helper()
	if len(order) == 0 {
		order = pipeline.AllStageNames()
	}
	reg := pipeline.NewRegistry()
	for _, name := range order {
		if s, ok := stages[name]; ok {
			if err := reg.Register(s); err != nil {
				t.Fatalf("register %s: %v", name, err)
			}
		}
	}
	return reg
}

var linearWeights = progress.Weights{
	pipeline.StageParse:      5,
	pipeline.StageTranscribe: 50,
	pipeline.StageClean:      30,
	pipeline.StageChunk:      15,
}

func newRunner(t *testing.T, reg *pipeline.Registry, cache workflow.Cache) *workflow.Runner {
	t.Helper()
	return workflow.NewRunner(reg, cache, workflow.WithWeights(linearWeights))
}

func archiveMeta(t *testing.T, content pipeline.ContentType) pipeline.RunMeta {
	t.Helper()
	return pipeline.RunMeta{
		ContentType: content,
		ArchivePath: filepath.Join(t.TempDir(), "2024-05-01 - Ada - Systems"),
	}
}

func mustOpenCache(t *testing.T) *resultcache.Store {
	t.Helper()
	return testsupport.MustOpenCache(t)
}

func equalNames(a, b []pipeline.StageName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
