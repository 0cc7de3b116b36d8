package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"lectern/internal/config"
	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/runs"
	"lectern/internal/services"
)

// Runner executes one recording. *runs.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, req runs.Request) (*runs.Result, error)
}

var recordingExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".m4v": true, ".avi": true,
	".mp3": true, ".m4a": true, ".wav": true, ".flac": true, ".ogg": true,
}

// IsRecording reports whether path looks like a recording the watcher should run.
func IsRecording(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".partial") {
		return false
	}
	return recordingExtensions[strings.ToLower(filepath.Ext(base))]
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithSettle overrides watch.settle_seconds.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

type fileSig struct {
	size    int64
	modTime time.Time
}

func sigOf(info os.FileInfo) fileSig {
	return fileSig{size: info.Size(), modTime: info.ModTime()}
}

func statSig(path string) fileSig {
	info, err := os.Stat(path)
	if err != nil {
		return fileSig{size: -1}
	}
	return sigOf(info)
}

func (s fileSig) equal(other fileSig) bool {
	return s.size == other.size && s.modTime.Equal(other.modTime)
}

// Watcher monitors the inbox and hands settled recordings to a Runner.
type Watcher struct {
	inbox          string
	settle         time.Duration
	defaultContent pipeline.ContentType
	runner         Runner
	logger         *slog.Logger

	fs    *fsnotify.Watcher
	slots chan struct{}
	ready chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	timers   map[string]*time.Timer
	armed    map[string]fileSig
	inflight map[string]bool

	// handled remembers the file state each recording was started with, so
	// trailing write events do not start it twice.
	handled map[string]fileSig
}

// New prepares a watcher over cfg.Paths.InboxDir and its content subdirectories.
func New(cfg *config.Config, runner Runner, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if cfg == nil {
		return nil, errors.New("watcher requires configuration")
	}
	if runner == nil {
		return nil, errors.New("watcher requires a runner")
	}
	content, err := pipeline.ParseContentType(cfg.Watch.DefaultContent)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "watch inbox", "watch.default_content", err)
	}
	inbox := strings.TrimSpace(cfg.Paths.InboxDir)
	if inbox == "" {
		return nil, services.Wrap(services.ErrConfiguration, "", "watch inbox", "paths.inbox_dir is empty", nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range watchDirs(inbox) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("create inbox directory %q: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("add watch path %q: %w", dir, err)
		}
	}

	maxConcurrent := cfg.Watch.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		inbox:          inbox,
		settle:         time.Duration(cfg.Watch.SettleSeconds) * time.Second,
		defaultContent: content,
		runner:         runner,
		logger:         logging.NewComponentLogger(logger, "watcher"),
		fs:             fsw,
		slots:          make(chan struct{}, maxConcurrent),
		ready:          make(chan string, 64),
		done:           make(chan struct{}),
		timers:         make(map[string]*time.Timer),
		armed:          make(map[string]fileSig),
		inflight:       make(map[string]bool),
		handled:        make(map[string]fileSig),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func watchDirs(inbox string) []string {
	return []string{
		inbox,
		filepath.Join(inbox, string(pipeline.ContentEducational)),
		filepath.Join(inbox, string(pipeline.ContentLeadership)),
	}
}

// ContentFor returns the content type implied by a recording's location.
func (w *Watcher) ContentFor(path string) pipeline.ContentType {
	parent := filepath.Base(filepath.Dir(path))
	if filepath.Clean(filepath.Dir(filepath.Dir(path))) == filepath.Clean(w.inbox) {
		if content, err := pipeline.ParseContentType(parent); err == nil {
			return content
		}
	}
	return w.defaultContent
}

// Run watches until ctx ends, then waits for in-flight runs to return.
// Recordings already sitting in the inbox are scheduled first.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	defer close(w.done)
	w.logger.Info("inbox watcher started",
		logging.String("inbox", w.inbox),
		logging.Duration("settle", w.settle),
		logging.Int("max_concurrent", cap(w.slots)),
		logging.String("default_content", string(w.defaultContent)),
	)
	w.scanExisting()

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.logger.Info("waiting for in-flight runs")
			w.wg.Wait()
			w.logger.Info("inbox watcher stopped")
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !IsRecording(event.Name) {
				w.logger.Debug("ignoring inbox entry", logging.String("path", event.Name))
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			logging.WarnWithContext(w.logger, "inbox watcher error", "watcher_error", logging.Error(err))

		case path := <-w.ready:
			sig, ok := w.claim(path)
			if !ok {
				continue
			}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				select {
				case w.slots <- struct{}{}:
				case <-ctx.Done():
					w.release(path)
					return
				}
				defer func() { <-w.slots }()
				if !w.unchangedSince(path, sig) {
					return
				}
				defer w.release(path)
				w.process(ctx, path)
			}()
		}
	}
}

func (w *Watcher) scanExisting() {
	for _, dir := range watchDirs(w.inbox) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() && IsRecording(entry.Name()) {
				w.schedule(filepath.Join(dir, entry.Name()))
			}
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armLocked(path, statSig(path))
}

// armLocked records the file state seen when the timer was (re)armed; the
// recording is only claimed if it is still the same when the timer fires.
func (w *Watcher) armLocked(path string, sig fileSig) {
	w.armed[path] = sig
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	clear(w.armed)
}

func (w *Watcher) claim(path string) (fileSig, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[path] {
		return fileSig{}, false
	}
	info, err := os.Stat(path)
	if err != nil {
		delete(w.armed, path)
		return fileSig{}, false
	}
	sig := sigOf(info)
	if armed, ok := w.armed[path]; ok && !armed.equal(sig) {
		// Still being written.
		w.armLocked(path, sig)
		return fileSig{}, false
	}
	delete(w.armed, path)
	if prev, ok := w.handled[path]; ok && prev.equal(sig) {
		return fileSig{}, false
	}
	w.handled[path] = sig
	w.inflight[path] = true
	return sig, true
}

// unchangedSince re-checks a claimed recording once a slot is free. A file
// that changed while it waited goes back to settling.
func (w *Watcher) unchangedSince(path string, sig fileSig) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := os.Stat(path)
	if err == nil && sigOf(info).equal(sig) {
		return true
	}
	delete(w.inflight, path)
	delete(w.handled, path)
	if err != nil {
		return false
	}
	w.logger.Debug("recording changed while queued", logging.String("path", path))
	w.armLocked(path, sigOf(info))
	return false
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) process(ctx context.Context, path string) {
	content := w.ContentFor(path)
	w.logger.Info("recording settled",
		logging.String(logging.FieldEventType, "inbox_recording"),
		logging.String("source", path),
		logging.String("content_type", string(content)),
	)
	result, err := w.runner.Run(ctx, runs.Request{
		SourcePath:  path,
		ContentType: content,
		MoveSource:  true,
	})
	if err != nil {
		if errors.Is(err, services.ErrCanceled) || errors.Is(err, context.Canceled) {
			w.logger.Info("inbox run canceled", logging.String("source", path))
			return
		}
		logging.ErrorWithContext(w.logger, "inbox run failed", "inbox_run_failed",
			logging.String("source", path),
			logging.Error(err),
		)
		return
	}
	w.logger.Info("inbox run complete",
		logging.String(logging.FieldEventType, "inbox_run_complete"),
		logging.String("source", path),
		logging.String(logging.FieldArchivePath, result.Outcome.ArchivePath),
	)
}
