package runs

import (
	"sync"

	"lectern/internal/progress"
	"lectern/internal/services"
)

// holdingSink forwards progress frames and keeps the runner's result frame
// until the archive has been written.
type holdingSink struct {
	next progress.Sink

	mu   sync.Mutex
	last int
	held *progress.Frame
}

func newHoldingSink(next progress.Sink) *holdingSink {
	if next == nil {
		next = progress.Discard
	}
	return &holdingSink{next: next}
}

func (s *holdingSink) Emit(frame progress.Frame) {
	s.mu.Lock()
	if frame.Type == progress.FrameResult {
		held := frame
		s.held = &held
		s.mu.Unlock()
		return
	}
	if frame.Type == progress.FrameProgress && frame.Progress > s.last {
		s.last = frame.Progress
	}
	s.mu.Unlock()
	s.next.Emit(frame)
}

// succeed releases the held result frame carrying data.
func (s *holdingSink) succeed(data any) {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()
	if held == nil {
		return
	}
	held.Data = data
	s.next.Emit(*held)
}

// fail replaces the held result frame with an error frame. The archive
// writer runs after every stage, so the failure is attributed to no stage.
func (s *holdingSink) fail(err error) {
	s.mu.Lock()
	held := s.held
	s.held = nil
	last := s.last
	s.mu.Unlock()
	if held == nil {
		return
	}
	details := services.Details(err)
	s.next.Emit(progress.Frame{
		Type:     progress.FrameError,
		Status:   "failed",
		Progress: last,
		Error: &progress.ErrorPayload{
			Message: details.Message,
			Kind:    details.Kind,
			Hint:    details.Hint,
		},
	})
}
