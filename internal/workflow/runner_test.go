package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/resultcache"
	"lectern/internal/services"
	"lectern/internal/workflow"
)

func TestRunLinearChainOrderAndProgress(t *testing.T) {
	j := &journal{}
	reg := registryOf(t, linearStages(j))
	cache := mustOpenCache(t)
	rec := progress.NewRecorder(nil)

	outcome, err := newRunner(t, reg, cache).Run(context.Background(), workflow.Request{
		Meta:  archiveMeta(t, pipeline.ContentEducational),
		Cache: workflow.ReuseAll(),
		Sink:  rec,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	want := []pipeline.StageName{pipeline.StageParse, pipeline.StageTranscribe, pipeline.StageClean, pipeline.StageChunk}
	if got := j.names(); !equalNames(got, want) {
		t.Fatalf("execution order = %v, want %v", got, want)
	}
	if !equalNames(outcome.Order, want) {
		t.Fatalf("outcome order = %v", outcome.Order)
	}
	values := rec.Values()
	wantValues := []int{5, 55, 85, 100}
	if len(values) != len(wantValues) {
		t.Fatalf("progress = %v, want %v", values, wantValues)
	}
	for i := range values {
		if values[i] != wantValues[i] {
			t.Fatalf("progress = %v, want %v", values, wantValues)
		}
	}
	frames := rec.Frames()
	last := frames[len(frames)-1]
	if last.Type != progress.FrameResult {
		t.Fatalf("terminal frame = %s, want result", last.Type)
	}
	if _, ok := last.Data.(*workflow.Outcome); !ok {
		t.Fatalf("result frame data = %T", last.Data)
	}
	for _, name := range want {
		entry, found, err := cache.Load(context.Background(), outcome.ArchivePath, name, 0)
		if err != nil || !found || entry.Version != 1 {
			t.Fatalf("cache entry for %s = (%+v, %v, %v)", name, entry.Version, found, err)
		}
	}
}

func TestRunReplaysCachedResults(t *testing.T) {
	j := &journal{}
	reg := registryOf(t, linearStages(j))
	cache := mustOpenCache(t)
	runner := newRunner(t, reg, cache)
	meta := archiveMeta(t, pipeline.ContentEducational)

	if _, err := runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll()}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rec := progress.NewRecorder(nil)
	outcome, err := runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll(), Sink: rec})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := len(j.names()); got != 4 {
		t.Fatalf("stages executed %d times, want 4 (first run only)", got)
	}
	if cached := outcome.StagesWith(workflow.StatusCached); len(cached) != 4 {
		t.Fatalf("cached stages = %v", cached)
	}
	if got := rec.Values(); got[len(got)-1] != 100 {
		t.Fatalf("progress = %v", got)
	}
	raw, ok := outcome.Results[pipeline.StageChunk].(json.RawMessage)
	if !ok {
		t.Fatalf("replayed result type = %T", outcome.Results[pipeline.StageChunk])
	}
	var payload map[string]string
	if err := json.Unmarshal(raw, &payload); err != nil || payload["stage"] != "chunk" {
		t.Fatalf("replayed payload = %s (%v)", raw, err)
	}
}

func TestRunWithoutReuseWritesNewVersions(t *testing.T) {
	j := &journal{}
	reg := registryOf(t, linearStages(j))
	cache := mustOpenCache(t)
	runner := newRunner(t, reg, cache)
	meta := archiveMeta(t, pipeline.ContentEducational)

	for i := 0; i < 2; i++ {
		if _, err := runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.NoCache()}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	entry, _, err := cache.Load(context.Background(), meta.ArchivePath, pipeline.StageClean, 0)
	if err != nil || entry.Version != 2 {
		t.Fatalf("clean version = %d (%v), want 2", entry.Version, err)
	}
}

func TestRunRefreshAndPinnedVersions(t *testing.T) {
	j := &journal{}
	reg := registryOf(t, linearStages(j))
	cache := mustOpenCache(t)
	runner := newRunner(t, reg, cache)
	meta := archiveMeta(t, pipeline.ContentEducational)

	if _, err := runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll()}); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	policy := workflow.CachePolicy{
		Reuse:   true,
		Refresh: map[pipeline.StageName]bool{pipeline.StageTranscribe: true},
	}
	outcome, err := runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: policy})
	if err != nil {
		t.Fatalf("refresh run: %v", err)
	}
	report, _ := outcome.Report(pipeline.StageTranscribe)
	if report.Status != workflow.StatusExecuted || report.Version != 2 {
		t.Fatalf("transcribe report = %+v", report)
	}

	pinned := workflow.CachePolicy{Versions: map[pipeline.StageName]int{pipeline.StageTranscribe: 1}}
	outcome, err = runner.Run(context.Background(), workflow.Request{Meta: meta, Cache: pinned})
	if err != nil {
		t.Fatalf("pinned run: %v", err)
	}
	report, _ = outcome.Report(pipeline.StageTranscribe)
	if report.Status != workflow.StatusCached || report.Version != 1 {
		t.Fatalf("pinned transcribe report = %+v", report)
	}
}

func TestRunMissingPinnedVersionFailsStage(t *testing.T) {
	j := &journal{}
	reg := registryOf(t, linearStages(j))
	runner := newRunner(t, reg, mustOpenCache(t))

	_, err := runner.Run(context.Background(), workflow.Request{
		Meta:  archiveMeta(t, pipeline.ContentEducational),
		Cache: workflow.CachePolicy{Versions: map[pipeline.StageName]int{pipeline.StageParse: 7}},
	})
	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) || perr.Stage != pipeline.StageParse {
		t.Fatalf("expected PipelineError for parse, got %v", err)
	}
	if !errors.Is(err, resultcache.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if len(j.names()) != 0 {
		t.Fatalf("no stage should execute, got %v", j.names())
	}
}

func TestRunMandatoryFailureStopsRun(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	cause := services.Wrap(services.ErrTimeout, "transcribe", "generate", "provider deadline", context.DeadlineExceeded)
	stages[pipeline.StageTranscribe].exec = func(ctx context.Context, _ *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
		report(0.5, "uploading")
		return nil, cause
	}
	reg := registryOf(t, stages)
	cache := mustOpenCache(t)
	rec := progress.NewRecorder(nil)
	meta := archiveMeta(t, pipeline.ContentEducational)

	outcome, err := newRunner(t, reg, cache).Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll(), Sink: rec})
	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) || perr.Stage != pipeline.StageTranscribe {
		t.Fatalf("expected PipelineError for transcribe, got %v", err)
	}
	if !errors.Is(err, cause) || !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if j.count(pipeline.StageClean) != 0 || j.count(pipeline.StageChunk) != 0 {
		t.Fatalf("later stages ran: %v", j.names())
	}
	frames := rec.Frames()
	last := frames[len(frames)-1]
	if last.Type != progress.FrameError || last.Error == nil || last.Error.Stage != pipeline.StageTranscribe {
		t.Fatalf("unexpected terminal frame %+v", last)
	}
	if last.Error.Kind != "timeout" {
		t.Fatalf("error kind = %q, want timeout", last.Error.Kind)
	}
	for _, f := range frames {
		if f.Progress >= 100 {
			t.Fatalf("failed run reached 100: %v", rec.Values())
		}
	}
	if _, found, _ := cache.Load(context.Background(), meta.ArchivePath, pipeline.StageParse, 0); !found {
		t.Fatal("parse result should stay cached after failure")
	}
	if report, _ := outcome.Report(pipeline.StageTranscribe); report.Status != workflow.StatusFailed {
		t.Fatalf("transcribe report = %+v", report)
	}

	// Fix the cause and resume: parse is replayed, the rest executes.
	stages[pipeline.StageTranscribe].exec = nil
	outcome, err = newRunner(t, reg, cache).Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll()})
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if j.count(pipeline.StageParse) != 1 {
		t.Fatalf("parse executed %d times, want 1", j.count(pipeline.StageParse))
	}
	if report, _ := outcome.Report(pipeline.StageParse); report.Status != workflow.StatusCached {
		t.Fatalf("parse report = %+v", report)
	}
}

func TestRunOptionalFailureUsesDefault(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	slides := newStage(j, pipeline.StageSlides, pipeline.StageParse)
	slides.IsOptional = true
	slides.concurrent = true
	slides.fallback = []string{}
	slides.exec = func(context.Context, *pipeline.Context, pipeline.ProgressFunc) (any, error) {
		return nil, errors.New("vision quota exhausted")
	}
	stages[pipeline.StageSlides] = slides

	var seen []string
	var seenOK bool
	longread := newStage(j, pipeline.StageLongread, pipeline.StageClean, pipeline.StageSlides)
	longread.exec = func(_ context.Context, pctx *pipeline.Context, _ pipeline.ProgressFunc) (any, error) {
		var err error
		seen, seenOK, err = pipeline.Decode[[]string](pctx, pipeline.StageSlides)
		return "longread", err
	}
	stages[pipeline.StageLongread] = longread
	stages[pipeline.StageChunk].Deps = []pipeline.StageName{pipeline.StageLongread}

	cache := mustOpenCache(t)
	meta := archiveMeta(t, pipeline.ContentEducational)
	outcome, err := newRunner(t, registryOf(t, stages), cache).Run(context.Background(), workflow.Request{Meta: meta, Cache: workflow.ReuseAll()})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !seenOK || seen == nil || len(seen) != 0 {
		t.Fatalf("longread saw slides = %v (%v)", seen, seenOK)
	}
	report, _ := outcome.Report(pipeline.StageSlides)
	if report.Status != workflow.StatusDefaulted || report.Error == "" {
		t.Fatalf("slides report = %+v", report)
	}
	if _, found, _ := cache.Load(context.Background(), meta.ArchivePath, pipeline.StageSlides, 0); found {
		t.Fatal("default result must not be cached")
	}
}

func TestRunConcurrentOptionalStageDoesNotGateChain(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	transcribed := make(chan struct{})
	stages[pipeline.StageTranscribe].exec = func(context.Context, *pipeline.Context, pipeline.ProgressFunc) (any, error) {
		close(transcribed)
		return "transcript", nil
	}
	slides := newStage(j, pipeline.StageSlides, pipeline.StageParse)
	slides.IsOptional = true
	slides.concurrent = true
	slides.exec = func(ctx context.Context, _ *pipeline.Context, _ pipeline.ProgressFunc) (any, error) {
		select {
		case <-transcribed:
			return []string{"slide 1"}, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("chain was blocked behind slides")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	stages[pipeline.StageSlides] = slides

	reg := registryOf(t, stages,
		pipeline.StageParse, pipeline.StageSlides, pipeline.StageTranscribe, pipeline.StageClean, pipeline.StageChunk)
	outcome, err := newRunner(t, reg, mustOpenCache(t)).Run(context.Background(), workflow.Request{
		Meta: archiveMeta(t, pipeline.ContentEducational),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := outcome.Order[1]; got != pipeline.StageSlides {
		t.Fatalf("slides should be scheduled right after parse, order = %v", outcome.Order)
	}
	report, _ := outcome.Report(pipeline.StageSlides)
	if report.Status != workflow.StatusExecuted {
		t.Fatalf("slides report = %+v", report)
	}
	if _, ok := outcome.Results[pipeline.StageSlides]; !ok {
		t.Fatal("slides result missing from outcome")
	}
}

func TestRunMandatoryFailureDuringConcurrentStageIsNotCancellation(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	slidesStarted := make(chan struct{})
	slides := newStage(j, pipeline.StageSlides, pipeline.StageParse)
	slides.IsOptional = true
	slides.concurrent = true
	slides.exec = func(ctx context.Context, _ *pipeline.Context, _ pipeline.ProgressFunc) (any, error) {
		close(slidesStarted)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	stages[pipeline.StageSlides] = slides
	stages[pipeline.StageTranscribe].exec = func(context.Context, *pipeline.Context, pipeline.ProgressFunc) (any, error) {
		<-slidesStarted
		return nil, errors.New("provider rejected media")
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := registryOf(t, stages,
		pipeline.StageParse, pipeline.StageSlides, pipeline.StageTranscribe, pipeline.StageClean, pipeline.StageChunk)
	rec := progress.NewRecorder(nil)
	runner := workflow.NewRunner(reg, mustOpenCache(t), workflow.WithWeights(linearWeights), workflow.WithLogger(logger))

	outcome, err := runner.Run(context.Background(), workflow.Request{Meta: archiveMeta(t, pipeline.ContentEducational), Sink: rec})
	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) || perr.Stage != pipeline.StageTranscribe {
		t.Fatalf("expected PipelineError for transcribe, got %v", err)
	}
	if errors.Is(err, services.ErrCanceled) {
		t.Fatalf("run failure reported as cancellation: %v", err)
	}
	if strings.Contains(logs.String(), `"event_type":"run_canceled"`) {
		t.Fatalf("run_canceled logged for a failed run:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), `"event_type":"stage_failure"`) {
		t.Fatalf("stage_failure not logged:\n%s", logs.String())
	}
	if report, ok := outcome.Report(pipeline.StageSlides); ok && report.Status == workflow.StatusDefaulted {
		t.Fatalf("interrupted slides recorded as defaulted: %+v", report)
	}
	frames := rec.Frames()
	last := frames[len(frames)-1]
	if last.Type != progress.FrameError || last.Error == nil || last.Error.Stage != pipeline.StageTranscribe {
		t.Fatalf("unexpected terminal frame %+v", last)
	}
}

func TestRunCancellationKeepsCompletedEntries(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stages[pipeline.StageClean].exec = func(stageCtx context.Context, _ *pipeline.Context, _ pipeline.ProgressFunc) (any, error) {
		cancel()
		<-stageCtx.Done()
		return nil, stageCtx.Err()
	}
	cache := mustOpenCache(t)
	meta := archiveMeta(t, pipeline.ContentEducational)
	rec := progress.NewRecorder(nil)

	_, err := newRunner(t, registryOf(t, stages), cache).Run(ctx, workflow.Request{Meta: meta, Cache: workflow.ReuseAll(), Sink: rec})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, services.ErrCanceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	var perr *pipeline.PipelineError
	if errors.As(err, &perr) {
		t.Fatalf("cancellation should not be reported as a stage failure: %v", err)
	}
	if j.count(pipeline.StageChunk) != 0 {
		t.Fatal("chunk ran after cancellation")
	}
	for _, name := range []pipeline.StageName{pipeline.StageParse, pipeline.StageTranscribe} {
		if _, found, err := cache.Load(context.Background(), meta.ArchivePath, name, 0); err != nil || !found {
			t.Fatalf("%s entry lost after cancellation (%v)", name, err)
		}
	}
	frames := rec.Frames()
	if last := frames[len(frames)-1]; last.Type != progress.FrameError || last.Error.Kind != "canceled" {
		t.Fatalf("terminal frame = %+v", last)
	}
}

func TestRunContentTypeBranching(t *testing.T) {
	build := func(j *journal) map[pipeline.StageName]*fakeStage {
		leadership := func(p *pipeline.Context) bool { return p.ContentType() == pipeline.ContentLeadership }
		educational := func(p *pipeline.Context) bool { return p.ContentType() == pipeline.ContentEducational }
		stages := linearStages(j)
		stages[pipeline.StageLongread] = newStage(j, pipeline.StageLongread, pipeline.StageClean)
		stages[pipeline.StageLongread].skip = leadership
		stages[pipeline.StageSummarize] = newStage(j, pipeline.StageSummarize, pipeline.StageLongread)
		stages[pipeline.StageSummarize].skip = leadership
		stages[pipeline.StageStory] = newStage(j, pipeline.StageStory, pipeline.StageClean)
		stages[pipeline.StageStory].skip = educational
		stages[pipeline.StageChunk].Deps = []pipeline.StageName{pipeline.StageLongread, pipeline.StageStory}
		return stages
	}

	cases := []struct {
		content pipeline.ContentType
		skipped []pipeline.StageName
		ran     pipeline.StageName
	}{
		{pipeline.ContentLeadership, []pipeline.StageName{pipeline.StageLongread, pipeline.StageSummarize}, pipeline.StageStory},
		{pipeline.ContentEducational, []pipeline.StageName{pipeline.StageStory}, pipeline.StageLongread},
	}
	for _, tc := range cases {
		t.Run(string(tc.content), func(t *testing.T) {
			j := &journal{}
			rec := progress.NewRecorder(nil)
			outcome, err := newRunner(t, registryOf(t, build(j)), mustOpenCache(t)).Run(context.Background(), workflow.Request{
				Meta: archiveMeta(t, tc.content),
				Sink: rec,
			})
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if got := outcome.StagesWith(workflow.StatusSkipped); !equalNames(got, tc.skipped) {
				t.Fatalf("skipped = %v, want %v", got, tc.skipped)
			}
			if j.count(tc.ran) != 1 {
				t.Fatalf("%s did not run: %v", tc.ran, j.names())
			}
			for _, s := range tc.skipped {
				if j.count(s) != 0 {
					t.Fatalf("skipped stage %s executed", s)
				}
				if _, ok := outcome.Results[s]; ok {
					t.Fatalf("skipped stage %s has a result", s)
				}
			}
			values := rec.Values()
			if values[len(values)-1] != 100 {
				t.Fatalf("progress = %v", values)
			}
		})
	}
}

func TestRunConfigErrorBeforeAnyStage(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	stages[pipeline.StageLongread] = newStage(j, pipeline.StageLongread, pipeline.StageStory)
	stages[pipeline.StageStory] = newStage(j, pipeline.StageStory, pipeline.StageLongread)
	stages[pipeline.StageChunk].Deps = []pipeline.StageName{pipeline.StageLongread}
	rec := progress.NewRecorder(nil)

	_, err := newRunner(t, registryOf(t, stages), mustOpenCache(t)).Run(context.Background(), workflow.Request{
		Meta: archiveMeta(t, pipeline.ContentEducational),
		Sink: rec,
	})
	var cfgErr *pipeline.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(j.names()) != 0 {
		t.Fatalf("stages ran despite config error: %v", j.names())
	}
	frames := rec.Frames()
	if len(frames) != 1 || frames[0].Type != progress.FrameError || frames[0].Error.Kind != "configuration" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestRunRejectsMissingArchivePath(t *testing.T) {
	j := &journal{}
	_, err := newRunner(t, registryOf(t, linearStages(j)), nil).Run(context.Background(), workflow.Request{
		Meta: pipeline.RunMeta{ContentType: pipeline.ContentEducational},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunRecoversPanickingStage(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	stages[pipeline.StageClean].exec = func(context.Context, *pipeline.Context, pipeline.ProgressFunc) (any, error) {
		panic("nil transcript")
	}
	_, err := newRunner(t, registryOf(t, stages), nil).Run(context.Background(), workflow.Request{
		Meta: archiveMeta(t, pipeline.ContentEducational),
	})
	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) || perr.Stage != pipeline.StageClean {
		t.Fatalf("expected PipelineError for clean, got %v", err)
	}
}

func TestRunIntraStageProgressIsMonotonic(t *testing.T) {
	j := &journal{}
	stages := linearStages(j)
	stages[pipeline.StageTranscribe].exec = func(_ context.Context, _ *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
		for _, f := range []float64{0.1, 0.4, 0.3, 0.9, 0.9} {
			report(f, "transcribing")
		}
		return "ok", nil
	}
	rec := progress.NewRecorder(nil)
	if _, err := newRunner(t, registryOf(t, stages), nil).Run(context.Background(), workflow.Request{
		Meta: archiveMeta(t, pipeline.ContentEducational),
		Sink: rec,
	}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	values := rec.Values()
	want := []int{5, 10, 25, 50, 55, 85, 100}
	if len(values) != len(want) {
		t.Fatalf("progress = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Fatalf("progress = %v, want %v", values, want)
		}
	}
}
