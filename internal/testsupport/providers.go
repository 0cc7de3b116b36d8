package testsupport

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// FakeText is a scripted text generator. By default it answers with one
// markdown section built from the first words of the user prompt.
type FakeText struct {
	Respond func(system, user string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (f *FakeText) Generate(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	f.mu.Unlock()
	if f.Respond != nil {
		return f.Respond(system, user)
	}
	words := strings.Fields(user)
	if len(words) > 12 {
		words = words[:12]
	}
	return "## Section\n\n" + strings.Join(words, " "), nil
}

func (f *FakeText) ModelName() string { return "fake-text" }

// Calls returns the number of Generate calls.
func (f *FakeText) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// FakeTranscriber returns Text for every recording, or Err when set.
type FakeTranscriber struct {
	Text string
	Err  error

	calls atomic.Int32
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return "", f.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.Text, nil
}

func (f *FakeTranscriber) TranscriptionModel() string { return "fake-audio" }

// Calls returns the number of Transcribe calls.
func (f *FakeTranscriber) Calls() int { return int(f.calls.Load()) }

// FakeSlides reads a slide as "text of <file>".
type FakeSlides struct {
	Fail bool
}

func (f *FakeSlides) ReadSlide(_ context.Context, imagePath string) (string, error) {
	if f.Fail {
		return "", errors.New("vision quota exhausted")
	}
	return "text of " + filepath.Base(imagePath), nil
}

func (f *FakeSlides) VisionModel() string { return "fake-vision" }
