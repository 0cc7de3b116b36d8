package stages_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

type fakeText struct {
	mu      sync.Mutex
	calls   []string
	respond func(system, user string) (string, error)
}

func (f *fakeText) Generate(_ context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, user)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(system, user)
	}
	return "## Section\n\n" + firstWords(user, 12), nil
}

func (f *fakeText) ModelName() string { return "fake-text" }

func (f *fakeText) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTranscriber struct {
	text  string
	block bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ string) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, nil
}

func (f *fakeTranscriber) TranscriptionModel() string { return "fake-audio" }

type fakeSlides struct {
	fail bool
}

func (f *fakeSlides) ReadSlide(_ context.Context, imagePath string) (string, error) {
	if f.fail {
		return "", errors.New("vision quota exhausted")
	}
	return "text of " + filepath.Base(imagePath), nil
}

func (f *fakeSlides) VisionModel() string { return "fake-vision" }

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
