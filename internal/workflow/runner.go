package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/resultcache"
	"lectern/internal/services"
)

// Cache is the part of the result cache the runner depends on.
type Cache interface {
	Save(ctx context.Context, archivePath string, stage pipeline.StageName, payload any, modelName string) (int, error)
	Load(ctx context.Context, archivePath string, stage pipeline.StageName, version int) (resultcache.Entry, bool, error)
}

// Runner executes stage graphs from a registry.
type Runner struct {
	registry *pipeline.Registry
	cache    Cache
	weights  progress.Weights
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithWeights sets the progress weight table used for every run.
func WithWeights(weights progress.Weights) Option {
	return func(r *Runner) { r.weights = weights }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner builds a runner over registry. A nil cache disables replay and
// persistence.
func NewRunner(registry *pipeline.Registry, cache Cache, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		cache:    cache,
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "workflow")
	return r
}

// Request describes one run.
type Request struct {
	Meta   pipeline.RunMeta
	Stages []pipeline.StageName
	Cache  CachePolicy
	Sink   progress.Sink
	// RunID is generated when empty.
	RunID string
}

// Run executes the request. The sink receives the progress stream, always
// ending with one result or error frame. The returned Outcome is non-nil
// even on failure and carries whatever the run completed.
//
// Callers must hold the archive lock for req.Meta.ArchivePath; Run does not
// serialize runs against the same archive.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sink := req.Sink
	if sink == nil {
		sink = progress.Discard
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithArchivePath(ctx, req.Meta.ArchivePath)
	logger := logging.WithContext(ctx, r.logger)

	outcome := &Outcome{
		RunID:       runID,
		ArchivePath: req.Meta.ArchivePath,
		ContentType: req.Meta.ContentType,
		StartedAt:   r.now(),
	}

	stages, err := r.prepare(req.Meta, req.Stages)
	if err != nil {
		outcome.FinishedAt = r.now()
		logging.ErrorWithContext(logger, "run rejected", "run_rejected", logging.ErrorAttrs(err)...)
		progress.NewManager(nil, nil, sink).Fail("", err)
		return outcome, err
	}
	for _, stage := range stages {
		outcome.Order = append(outcome.Order, stage.Name())
	}

	pctx, writer := pipeline.NewContext(req.Meta)
	x := &run{
		runner:   r,
		req:      req,
		logger:   logger,
		pctx:     pctx,
		writer:   writer,
		progress: progress.NewManager(r.weights, outcome.Order, sink),
		outcome:  outcome,
		pending:  make(map[pipeline.StageName]chan struct{}),
	}

	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("content_type", string(req.Meta.ContentType)),
		logging.Any("stages", outcome.Order),
	)
	err = x.execute(ctx, stages)
	outcome.Results = pctx.Snapshot()
	outcome.FinishedAt = r.now()
	if err != nil {
		var failed pipeline.StageName
		var perr *pipeline.PipelineError
		if errors.As(err, &perr) {
			failed = perr.Stage
		} else if stage, ok := x.cancelStage(); ok {
			failed = stage
		}
		x.progress.Fail(failed, err)
		return outcome, err
	}

	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("executed", len(outcome.StagesWith(StatusExecuted))),
		logging.Int("cached", len(outcome.StagesWith(StatusCached))),
		logging.Int("skipped", len(outcome.StagesWith(StatusSkipped))),
		logging.Int("defaulted", len(outcome.StagesWith(StatusDefaulted))),
		logging.Duration("duration", outcome.Duration()),
	)
	x.progress.Succeed(outcome)
	return outcome, nil
}

func (r *Runner) prepare(meta pipeline.RunMeta, requested []pipeline.StageName) ([]pipeline.Stage, error) {
	if r.registry == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "run", "no stage registry configured", nil)
	}
	if strings.TrimSpace(meta.ArchivePath) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "run", "archive path is required", nil)
	}
	if _, err := pipeline.ParseContentType(string(meta.ContentType)); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "run", "", err)
	}
	return r.registry.ResolveOrder(requested)
}

// run holds the state of one Run call.
type run struct {
	runner   *Runner
	req      Request
	logger   *slog.Logger
	pctx     *pipeline.Context
	writer   *pipeline.Writer
	progress *progress.Manager
	outcome  *Outcome

	mu       sync.Mutex
	canceled pipeline.StageName

	// pending is only touched by the driving goroutine.
	pending map[pipeline.StageName]chan struct{}
}

// errRunAborted is the cancellation cause background stages see when a
// mandatory stage fails.
var errRunAborted = errors.New("run aborted by stage failure")

func (x *run) execute(ctx context.Context, stages []pipeline.Stage) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	background, bgCtx := errgroup.WithContext(runCtx)

	for _, stage := range stages {
		name := stage.Name()
		if err := x.awaitDependencies(runCtx, stage); err != nil {
			cancel(nil)
			_ = background.Wait()
			return x.canceledError(name, err)
		}
		if err := runCtx.Err(); err != nil {
			_ = background.Wait()
			return x.canceledError(name, err)
		}
		if stage.ShouldSkip(x.pctx) {
			x.skip(ctx, stage)
			continue
		}
		if pipeline.IsConcurrent(stage) {
			done := make(chan struct{})
			x.pending[name] = done
			background.Go(func() error {
				defer close(done)
				return x.runStage(bgCtx, stage)
			})
			continue
		}
		if err := x.runStage(runCtx, stage); err != nil {
			if errors.As(err, new(*pipeline.PipelineError)) {
				cancel(errRunAborted)
			} else {
				cancel(nil)
			}
			_ = background.Wait()
			return err
		}
	}

	if err := background.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return x.canceledError("", err)
	}
	return nil
}

func (x *run) awaitDependencies(ctx context.Context, stage pipeline.Stage) error {
	for _, dep := range stage.DependsOn() {
		done, ok := x.pending[dep]
		if !ok {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (x *run) skip(ctx context.Context, stage pipeline.Stage) {
	name := stage.Name()
	x.record(StageReport{Stage: name, Status: StatusSkipped})
	x.progress.CompleteStage(name, "Skipped")
	logging.WithContext(services.WithStage(ctx, string(name)), x.logger).Info("stage skipped",
		logging.String(logging.FieldEventType, "stage_skipped"),
		logging.String("content_type", string(x.pctx.ContentType())),
	)
}

// runStage replays or executes one stage. It returns an error only when the
// run must stop: a mandatory failure or cancellation.
func (x *run) runStage(ctx context.Context, stage pipeline.Stage) error {
	name := stage.Name()
	stageCtx := services.WithStage(ctx, string(name))
	logger := logging.WithContext(stageCtx, x.logger)
	archivePath := x.pctx.ArchivePath()
	started := x.runner.now()

	if version, use := x.req.Cache.lookup(name); use && x.runner.cache != nil {
		entry, found, err := x.runner.cache.Load(stageCtx, archivePath, name, version)
		if err != nil {
			return x.fail(stageCtx, logger, stage, fmt.Errorf("load cached result: %w", err), started)
		}
		if found {
			if err := x.writer.Put(name, entry.Payload); err != nil {
				return x.fail(stageCtx, logger, stage, err, started)
			}
			x.record(StageReport{Stage: name, Status: StatusCached, Version: entry.Version, Model: entry.ModelName})
			x.progress.CompleteStage(name, "Reused cached result")
			logger.Info("stage replayed from cache",
				logging.String(logging.FieldEventType, "stage_cache_hit"),
				logging.Int("version", entry.Version),
				logging.String("model", entry.ModelName),
			)
			return nil
		}
	}

	model := pipeline.ModelOf(stage)
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("model", model),
	)
	result, err := invoke(stageCtx, stage, x.pctx, func(fraction float64, message string) {
		x.progress.ReportStageProgress(name, fraction, message)
	})
	if err != nil {
		return x.fail(stageCtx, logger, stage, err, started)
	}

	version := 0
	if x.runner.cache != nil {
		version, err = x.runner.cache.Save(stageCtx, archivePath, name, result, model)
		if err != nil {
			return x.fail(stageCtx, logger, stage, fmt.Errorf("persist result: %w", err), started)
		}
	}
	if err := x.writer.Put(name, result); err != nil {
		return x.fail(stageCtx, logger, stage, err, started)
	}
	elapsed := x.runner.now().Sub(started)
	x.record(StageReport{Stage: name, Status: StatusExecuted, Version: version, Model: model, Duration: elapsed})
	x.progress.CompleteStage(name, "")
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("version", version),
		logging.Duration("duration", elapsed),
	)
	return nil
}

func (x *run) fail(ctx context.Context, logger *slog.Logger, stage pipeline.Stage, cause error, started time.Time) error {
	name := stage.Name()
	elapsed := x.runner.now().Sub(started)
	if ctx.Err() != nil {
		logger.Debug("stage interrupted", logging.String(logging.FieldEventType, "stage_canceled"), logging.Error(cause))
		if why := context.Cause(ctx); errors.Is(why, errRunAborted) || errors.As(why, new(*pipeline.PipelineError)) {
			return errRunAborted
		}
		return x.canceledError(name, ctx.Err())
	}

	if stage.Optional() {
		fallback := pipeline.DefaultOf(stage)
		if err := x.writer.Put(name, fallback); err != nil {
			logger.Debug("default result not recorded", logging.Error(err))
		}
		x.record(StageReport{Stage: name, Status: StatusDefaulted, Duration: elapsed, Error: cause.Error()})
		x.progress.CompleteStage(name, "Continuing without "+string(name))
		attrs := append(logging.ErrorAttrs(cause), logging.Duration("duration", elapsed))
		attrs = append(attrs, logging.String(logging.FieldImpact, "run continues with the default "+string(name)+" result"))
		logging.WarnWithContext(logger, "optional stage failed", "stage_optional_failure", attrs...)
		return nil
	}

	x.record(StageReport{Stage: name, Status: StatusFailed, Duration: elapsed, Error: cause.Error()})
	attrs := append(logging.ErrorAttrs(cause), logging.Alert("stage_failure"), logging.Duration("duration", elapsed))
	logging.ErrorWithContext(logger, "stage failed", "stage_failure", attrs...)
	return &pipeline.PipelineError{Stage: name, Cause: cause}
}

func (x *run) canceledError(stage pipeline.StageName, cause error) error {
	x.mu.Lock()
	if x.canceled == "" {
		x.canceled = stage
	}
	x.mu.Unlock()
	x.logger.Info("run canceled",
		logging.String(logging.FieldEventType, "run_canceled"),
		logging.String(logging.FieldStage, string(stage)),
	)
	return services.Wrap(services.ErrCanceled, string(stage), "run", "canceled before completion", cause)
}

func (x *run) cancelStage() (pipeline.StageName, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.canceled, x.canceled != ""
}

func (x *run) record(report StageReport) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.outcome.Reports = append(x.outcome.Reports, report)
}

// invoke runs stage.Execute, converting a panic into an error so one broken
// stage cannot take the process down.
func invoke(ctx context.Context, stage pipeline.Stage, pctx *pipeline.Context, report pipeline.ProgressFunc) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), rec)
		}
	}()
	return stage.Execute(ctx, pctx, report)
}
