package progress

import (
	"context"
	"sync"

	"lectern/internal/pipeline"
)

// FrameType distinguishes progress frames from the terminal frame.
type FrameType string

const (
	FrameProgress FrameType = "progress"
	FrameResult   FrameType = "result"
	FrameError    FrameType = "error"
)

// ErrorPayload describes the failure carried by an error frame.
type ErrorPayload struct {
	Stage   pipeline.StageName `json:"stage,omitempty"`
	Message string             `json:"message"`
	Kind    string             `json:"kind,omitempty"`
	Hint    string             `json:"hint,omitempty"`
}

// Frame is one element of a run's progress stream. A stream is zero or more
// progress frames followed by exactly one result or error frame.
type Frame struct {
	Type     FrameType          `json:"type"`
	Status   string             `json:"status,omitempty"`
	Stage    pipeline.StageName `json:"stage,omitempty"`
	Progress int                `json:"progress"`
	Message  string             `json:"message,omitempty"`
	Data     any                `json:"data,omitempty"`
	Error    *ErrorPayload      `json:"error,omitempty"`
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool {
	return f.Type == FrameResult || f.Type == FrameError
}

// Sink receives frames in order. Implementations must be safe to call from
// the goroutine that owns the Manager.
type Sink interface {
	Emit(Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

func (f SinkFunc) Emit(frame Frame) { f(frame) }

// Discard drops every frame.
var Discard Sink = SinkFunc(func(Frame) {})

// Stream is a channel-backed Sink for transports. It closes its channel after
// the terminal frame and stops blocking once ctx is done so a vanished client
// cannot stall the run.
type Stream struct {
	ctx  context.Context
	ch   chan Frame
	once sync.Once
	mu   sync.Mutex
	done bool
}

// NewStream creates a Stream with the given buffer size.
func NewStream(ctx context.Context, buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{ctx: ctx, ch: make(chan Frame, buffer)}
}

// Frames returns the receive side of the stream.
func (s *Stream) Frames() <-chan Frame { return s.ch }

// Emit delivers frame unless the stream already ended.
func (s *Stream) Emit(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- frame:
	case <-s.ctx.Done():
	}
	if frame.Terminal() {
		s.done = true
		s.once.Do(func() { close(s.ch) })
	}
}

// Close ends the stream without a terminal frame. Safe to call repeatedly.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.once.Do(func() { close(s.ch) })
}

// Recorder keeps every frame in memory; used by the CLI and tests.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	next   Sink
}

// NewRecorder returns a Recorder that also forwards to next when non-nil.
func NewRecorder(next Sink) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) Emit(frame Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Emit(frame)
	}
}

// Frames returns a copy of the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Values returns the progress value of every recorded frame.
func (r *Recorder) Values() []int {
	frames := r.Frames()
	out := make([]int, len(frames))
	for i, f := range frames {
		out[i] = f.Progress
	}
	return out
}
