package runs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lectern/internal/archive"
	"lectern/internal/archivelock"
	"lectern/internal/config"
	"lectern/internal/fileutil"
	"lectern/internal/logging"
	"lectern/internal/notifications"
	"lectern/internal/pipeline"
	"lectern/internal/progress"
	"lectern/internal/resultcache"
	"lectern/internal/services"
	"lectern/internal/stages"
	"lectern/internal/textutil"
	"lectern/internal/workflow"
)

// RunLogDir is the folder inside an archive that holds run.log.
const RunLogDir = "logs"

// Service runs recordings through the stage pipeline.
type Service struct {
	cfg      *config.Config
	cache    *resultcache.Store
	registry *pipeline.Registry
	weights  progress.Weights
	locker   *archivelock.Locker
	writer   *archive.Writer
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger   *slog.Logger
	notifier notifications.Service
	deps     *stages.Deps
	registry *pipeline.Registry
	now      func() time.Time
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithNotifier overrides the notifier built from config.
func WithNotifier(n notifications.Service) Option {
	return func(o *serviceOptions) { o.notifier = n }
}

// WithStageDeps supplies stage collaborators instead of building providers
// from config.
func WithStageDeps(deps stages.Deps) Option {
	return func(o *serviceOptions) { o.deps = &deps }
}

// WithRegistry replaces the builtin stage registry.
func WithRegistry(reg *pipeline.Registry) Option {
	return func(o *serviceOptions) { o.registry = reg }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// New builds a Service over an open cache.
func New(ctx context.Context, cfg *config.Config, cache *resultcache.Store, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "init runs", "config is required", nil)
	}
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}

	weights, err := progress.ParseWeights(cfg.Pipeline.Weights)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "init runs", "pipeline.weights", err)
	}

	registry := o.registry
	if registry == nil {
		var deps stages.Deps
		if o.deps != nil {
			deps = *o.deps
		} else {
			deps, err = NewStageDeps(ctx, cfg)
			if err != nil {
				return nil, err
			}
		}
		registry, err = stages.NewRegistry(deps)
		if err != nil {
			return nil, err
		}
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	return &Service{
		cfg:      cfg,
		cache:    cache,
		registry: registry,
		weights:  weights,
		locker:   archivelock.New(cfg.LockDir()),
		writer: archive.NewWriter(
			archive.WithDocx(cfg.Pipeline.DocxExport),
			archive.WithLogger(logger),
			archive.WithClock(o.now),
		),
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "runs"),
		now:      o.now,
	}, nil
}

// Registry exposes the stage registry the service runs.
func (s *Service) Registry() *pipeline.Registry { return s.registry }

// Request describes one run of one recording.
type Request struct {
	SourcePath string
	// ArchivePath defaults to ArchivePathFor(SourcePath).
	ArchivePath string
	ContentType pipeline.ContentType
	// Stages defaults to every registered stage.
	Stages []pipeline.StageName
	// Cache defaults to reusing cached results when pipeline.reuse_cache is set.
	Cache *workflow.CachePolicy
	Sink  progress.Sink
	// NoWait fails with archivelock.ErrLocked instead of waiting for another
	// run of the same archive.
	NoWait bool
	// MoveSource moves the recording into the archive after a successful run.
	MoveSource bool
}

// Result is what a run produced.
type Result struct {
	Outcome *workflow.Outcome `json:"outcome"`
	Files   []string          `json:"files,omitempty"`
	Source  string            `json:"source"`
}

// ArchivePathFor maps a recording to its archive directory under the
// configured archive root.
func (s *Service) ArchivePathFor(sourcePath string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(s.cfg.Paths.ArchiveRoot, textutil.Slug(stem))
}

// Run processes one recording. The returned Result is non-nil whenever the
// runner started, including on failure.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	sink := newHoldingSink(req.Sink)
	source, archivePath, contentType, err := s.normalize(req)
	if err != nil {
		progress.NewManager(nil, nil, req.Sink).Fail("", err)
		return nil, err
	}

	handle, err := s.lock(ctx, archivePath, req.NoWait)
	if err != nil {
		progress.NewManager(nil, nil, req.Sink).Fail("", err)
		return nil, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			s.logger.Warn("archive lock release failed",
				logging.String(logging.FieldEventType, "lock_release_failed"),
				logging.String(logging.FieldArchivePath, archivePath),
				logging.Error(err),
			)
		}
	}()

	runID := uuid.NewString()
	logger, closeLog, err := logging.RunLogger(s.logger, filepath.Join(archivePath, RunLogDir), runID)
	if err != nil {
		s.logger.Warn("run log unavailable; continuing with base logger",
			logging.String(logging.FieldEventType, "run_log_unavailable"),
			logging.String(logging.FieldArchivePath, archivePath),
			logging.Error(err),
		)
		logger = s.logger.With(logging.String(logging.FieldRunID, runID))
		closeLog = func() error { return nil }
	}
	defer func() { _ = closeLog() }()

	policy := workflow.CachePolicy{Reuse: s.cfg.Pipeline.ReuseCache}
	if req.Cache != nil {
		policy = *req.Cache
	}
	var cache workflow.Cache
	if s.cache != nil {
		cache = s.cache
	}
	runner := workflow.NewRunner(s.registry, cache,
		workflow.WithLogger(logger),
		workflow.WithWeights(s.weights),
		workflow.WithClock(s.now),
	)
	outcome, err := runner.Run(ctx, workflow.Request{
		Meta: pipeline.RunMeta{
			ContentType: contentType,
			ArchivePath: archivePath,
			SourcePath:  source,
		},
		Stages: req.Stages,
		Cache:  policy,
		Sink:   sink,
		RunID:  runID,
	})
	result := &Result{Outcome: outcome, Source: source}
	if err != nil {
		s.notifyFailure(ctx, logger, outcome, err)
		return result, err
	}

	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithArchivePath(ctx, archivePath)
	files, err := s.writer.Write(ctx, outcome)
	result.Files = files
	if err != nil {
		logging.ErrorWithContext(logger, "archive write failed", "archive_failed", logging.ErrorAttrs(err)...)
		sink.fail(err)
		s.notifyFailure(ctx, logger, outcome, err)
		return result, err
	}

	if req.MoveSource {
		dest := filepath.Join(archivePath, filepath.Base(source))
		if err := fileutil.MoveFile(source, dest); err != nil {
			logging.WarnWithContext(logger, "recording move failed; left in place", "source_move_failed",
				logging.String("source", source),
				logging.String("destination", dest),
				logging.Error(err),
			)
		} else {
			result.Source = dest
		}
	}

	sink.succeed(result)
	s.notifyComplete(ctx, logger, outcome)
	return result, nil
}

func (s *Service) normalize(req Request) (string, string, pipeline.ContentType, error) {
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return "", "", "", services.Wrap(services.ErrValidation, "", "run", "recording path is required", nil)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", "", "", services.Wrap(services.ErrValidation, "", "run", "resolve recording path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", "", services.Wrap(services.ErrNotFound, "", "run", abs, err)
	}
	if info.IsDir() {
		return "", "", "", services.Wrap(services.ErrValidation, "", "run", abs+" is a directory", nil)
	}
	contentType, err := pipeline.ParseContentType(string(req.ContentType))
	if err != nil {
		return "", "", "", services.Wrap(services.ErrValidation, "", "run", "", err)
	}
	archivePath := strings.TrimSpace(req.ArchivePath)
	if archivePath == "" {
		archivePath = s.ArchivePathFor(abs)
	}
	if archivePath, err = filepath.Abs(archivePath); err != nil {
		return "", "", "", services.Wrap(services.ErrValidation, "", "run", "resolve archive path", err)
	}
	return abs, archivePath, contentType, nil
}

func (s *Service) lock(ctx context.Context, archivePath string, noWait bool) (*archivelock.Handle, error) {
	if noWait {
		return s.locker.TryAcquire(archivePath)
	}
	return s.locker.Acquire(ctx, archivePath)
}

func (s *Service) notifyComplete(ctx context.Context, logger *slog.Logger, outcome *workflow.Outcome) {
	payload := notifications.Payload{
		"title":       outcomeTitle(outcome),
		"contentType": string(outcome.ContentType),
		"duration":    outcome.Duration().Round(time.Second).String(),
	}
	if err := s.notifier.Publish(ctx, notifications.EventRunCompleted, payload); err != nil {
		logger.Warn("completion notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.Error(err),
		)
	}
}

func (s *Service) notifyFailure(ctx context.Context, logger *slog.Logger, outcome *workflow.Outcome, cause error) {
	if errors.Is(cause, services.ErrCanceled) {
		return
	}
	payload := notifications.Payload{
		"title": outcomeTitle(outcome),
		"error": cause,
	}
	var perr *pipeline.PipelineError
	if errors.As(cause, &perr) {
		payload["stage"] = string(perr.Stage)
		payload["error"] = perr.Cause
	}
	// Notifications must not outlive a canceled request context.
	if err := s.notifier.Publish(context.WithoutCancel(ctx), notifications.EventRunFailed, payload); err != nil {
		logger.Warn("failure notification failed",
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.Error(err),
		)
	}
}

func outcomeTitle(outcome *workflow.Outcome) string {
	if outcome == nil {
		return ""
	}
	if raw, ok := outcome.Results[pipeline.StageParse]; ok {
		if meta, err := pipeline.DecodeValue[stages.ParseResult](pipeline.StageParse, raw); err == nil && meta.Title != "" {
			return meta.Title
		}
	}
	return filepath.Base(outcome.ArchivePath)
}
