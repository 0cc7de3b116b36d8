package progress

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// Weights maps stage names to relative weights. Values need not sum to any
// particular total; they are normalized against the stages of one run.
type Weights map[pipeline.StageName]int

// ParseWeights converts a config weight table, rejecting unknown stages and
// non-positive values.
func ParseWeights(raw map[string]int) (Weights, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Weights, len(raw))
	for _, key := range keys {
		name, err := pipeline.ParseStageName(key)
		if err != nil {
			return nil, fmt.Errorf("progress weights: %w", err)
		}
		if raw[key] <= 0 {
			return nil, fmt.Errorf("progress weights: %s must be positive", name)
		}
		out[name] = raw[key]
	}
	return out, nil
}

// defaultWeight applies to stages missing from the table.
const defaultWeight = 1

// Manager turns per-stage fractions into one monotonic 0-100 signal. Values
// below 100 are emitted as progress frames; 100 is only ever carried by the
// terminal result frame.
type Manager struct {
	mu        sync.Mutex
	sink      Sink
	weights   map[pipeline.StageName]float64
	total     float64
	fractions map[pipeline.StageName]float64
	last      int
	terminal  bool
	titler    cases.Caser
}

// NewManager builds a manager for the stages of one resolved run order.
func NewManager(weights Weights, order []pipeline.StageName, sink Sink) *Manager {
	if sink == nil {
		sink = Discard
	}
	m := &Manager{
		sink:      sink,
		weights:   make(map[pipeline.StageName]float64, len(order)),
		fractions: make(map[pipeline.StageName]float64, len(order)),
		titler:    cases.Title(language.English),
	}
	for _, name := range order {
		w, ok := weights[name]
		if !ok || w <= 0 {
			w = defaultWeight
		}
		m.weights[name] = float64(w)
		m.total += float64(w)
	}
	return m
}

// Current returns the last emitted progress value.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ReportStageProgress records that stage is fraction complete. Fractions
// never move backwards and are clamped to [0,1].
func (m *Manager) ReportStageProgress(stage pipeline.StageName, fraction float64, message string) {
	m.update(stage, fraction, message)
}

// CompleteStage credits the full weight of stage.
func (m *Manager) CompleteStage(stage pipeline.StageName, message string) {
	m.update(stage, 1, message)
}

func (m *Manager) update(stage pipeline.StageName, fraction float64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	if _, ok := m.weights[stage]; !ok {
		return
	}
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > m.fractions[stage] {
		m.fractions[stage] = fraction
	}

	value := m.compute()
	if value >= 100 {
		// Everything is done; the terminal frame will carry 100.
		return
	}
	if value <= m.last {
		return
	}
	m.last = value
	m.sink.Emit(Frame{
		Type:     FrameProgress,
		Status:   m.statusLabel(stage),
		Stage:    stage,
		Progress: value,
		Message:  strings.TrimSpace(message),
	})
}

func (m *Manager) compute() int {
	if m.total <= 0 {
		return 0
	}
	var done float64
	for name, w := range m.weights {
		done += w * m.fractions[name]
	}
	value := int(math.Floor(done*100/m.total + 1e-9))
	if value > 100 {
		value = 100
	}
	return value
}

// Succeed emits the terminal result frame carrying 100.
func (m *Manager) Succeed(data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	m.terminal = true
	m.last = 100
	m.sink.Emit(Frame{Type: FrameResult, Status: "complete", Progress: 100, Data: data})
}

// Fail emits the terminal error frame for a failure in stage.
func (m *Manager) Fail(stage pipeline.StageName, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	m.terminal = true
	details := services.Details(err)
	m.sink.Emit(Frame{
		Type:     FrameError,
		Status:   "failed",
		Stage:    stage,
		Progress: m.last,
		Error: &ErrorPayload{
			Stage:   stage,
			Message: details.Message,
			Kind:    details.Kind,
			Hint:    details.Hint,
		},
	})
}

func (m *Manager) statusLabel(stage pipeline.StageName) string {
	return m.titler.String(strings.ReplaceAll(string(stage), "_", " "))
}
