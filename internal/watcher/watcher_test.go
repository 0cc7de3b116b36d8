package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lectern/internal/config"
	"lectern/internal/pipeline"
	"lectern/internal/runs"
	"lectern/internal/testsupport"
	"lectern/internal/watcher"
	"lectern/internal/workflow"
)

type fakeRunner struct {
	requests chan runs.Request
	gate     chan struct{}

	running atomic.Int32
	mu      sync.Mutex
	peak    int32
	sizes   map[string]int64
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{requests: make(chan runs.Request, 16), sizes: make(map[string]int64)}
}

func (f *fakeRunner) Run(ctx context.Context, req runs.Request) (*runs.Result, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	f.mu.Lock()
	if n > f.peak {
		f.peak = n
	}
	if info, err := os.Stat(req.SourcePath); err == nil {
		f.sizes[filepath.Base(req.SourcePath)] = info.Size()
	}
	f.mu.Unlock()
	f.requests <- req
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &runs.Result{Outcome: &workflow.Outcome{ArchivePath: "/archive/" + filepath.Base(req.SourcePath)}}, nil
}

func (f *fakeRunner) next(t *testing.T) runs.Request {
	t.Helper()
	select {
	case req := <-f.requests:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a run")
		return runs.Request{}
	}
}

func startWatcher(t *testing.T, cfg *config.Config, runner watcher.Runner) *watcher.Watcher {
	t.Helper()
	w, err := watcher.New(cfg, runner, nil, watcher.WithSettle(100*time.Millisecond))
	if err != nil {
		t.Fatalf("watcher.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func TestIsRecording(t *testing.T) {
	cases := map[string]bool{
		"talk.mp4":         true,
		"Talk.MOV":         true,
		"notes.txt":        false,
		".talk.mp4":        false,
		"talk.mp4.partial": false,
		"podcast.m4a":      true,
	}
	for name, want := range cases {
		if got := watcher.IsRecording(name); got != want {
			t.Fatalf("IsRecording(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestContentForUsesSubdirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	w, err := watcher.New(cfg, newFakeRunner(), nil)
	if err != nil {
		t.Fatal(err)
	}
	inbox := cfg.Paths.InboxDir
	if got := w.ContentFor(filepath.Join(inbox, "leadership", "a.mp4")); got != pipeline.ContentLeadership {
		t.Fatalf("leadership subdir = %s", got)
	}
	if got := w.ContentFor(filepath.Join(inbox, "a.mp4")); got != pipeline.ContentEducational {
		t.Fatalf("inbox root = %s", got)
	}
	if got := w.ContentFor(filepath.Join(inbox, "other", "leadership", "a.mp4")); got != pipeline.ContentEducational {
		t.Fatalf("nested subdir = %s", got)
	}
}

func TestNewRecordingStartsRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	runner := newFakeRunner()
	startWatcher(t, cfg, runner)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, "leadership", "notes.txt"), "skip me")
	recording := filepath.Join(cfg.Paths.InboxDir, "leadership", "2024-05-01 - Ada - Teams.mp4")
	testsupport.WriteFile(t, recording, "media")

	req := runner.next(t)
	if req.SourcePath != recording {
		t.Fatalf("source = %q, want %q", req.SourcePath, recording)
	}
	if req.ContentType != pipeline.ContentLeadership || !req.MoveSource {
		t.Fatalf("request = %+v", req)
	}
	select {
	case extra := <-runner.requests:
		t.Fatalf("unexpected run for %q", extra.SourcePath)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestExistingRecordingsScheduledAtStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	recording := filepath.Join(cfg.Paths.InboxDir, "waiting.mkv")
	testsupport.WriteFile(t, recording, "media")

	runner := newFakeRunner()
	startWatcher(t, cfg, runner)
	req := runner.next(t)
	if req.SourcePath != recording || req.ContentType != pipeline.ContentEducational {
		t.Fatalf("request = %+v", req)
	}
}

func TestConcurrencyBounded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Watch.MaxConcurrent = 1
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	startWatcher(t, cfg, runner)

	for _, name := range []string{"a.mp4", "b.mp4", "c.mp4"} {
		testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, name), "media")
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		req := runner.next(t)
		seen[filepath.Base(req.SourcePath)] = true
		runner.gate <- struct{}{}
	}
	if len(seen) != 3 {
		t.Fatalf("runs = %v", seen)
	}
	runner.mu.Lock()
	peak := runner.peak
	runner.mu.Unlock()
	if peak != 1 {
		t.Fatalf("peak concurrency = %d, want 1", peak)
	}
}

func TestGrowingRecordingWaitsWhileSlotsBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Watch.MaxConcurrent = 1
	runner := newFakeRunner()
	runner.gate = make(chan struct{})
	startWatcher(t, cfg, runner)

	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, "a.mp4"), "media")
	if req := runner.next(t); filepath.Base(req.SourcePath) != "a.mp4" {
		t.Fatalf("first run = %q", req.SourcePath)
	}
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InboxDir, "c.mp4"), "media")

	growing := filepath.Join(cfg.Paths.InboxDir, "b.mp4")
	f, err := os.OpenFile(growing, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 12; i++ {
		if _, err := f.Write([]byte("chunk-of-media\n")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(40 * time.Millisecond)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(growing)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	runner.gate <- struct{}{}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		req := runner.next(t)
		seen[filepath.Base(req.SourcePath)] = true
		runner.gate <- struct{}{}
	}
	if !seen["b.mp4"] || !seen["c.mp4"] {
		t.Fatalf("runs = %v", seen)
	}
	runner.mu.Lock()
	got := runner.sizes["b.mp4"]
	runner.mu.Unlock()
	if got != info.Size() {
		t.Fatalf("b.mp4 ran at %d bytes, want the finished %d", got, info.Size())
	}
	select {
	case extra := <-runner.requests:
		t.Fatalf("unexpected run for %q", extra.SourcePath)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRejectsBadDefaultContent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Watch.DefaultContent = "keynote"
	if _, err := watcher.New(cfg, newFakeRunner(), nil); err == nil {
		t.Fatal("expected configuration error")
	}
}
