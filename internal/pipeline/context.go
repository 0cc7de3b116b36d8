package pipeline

import (
	"encoding/json"
	"fmt"
	"sync"
)

// RunMeta is fixed for the lifetime of a run.
type RunMeta struct {
	ContentType ContentType
	ArchivePath string
	SourcePath  string
}

// Context is the append-only store of stage results for one run. Stages only
// see read accessors; the orchestrator holds the matching Writer.
type Context struct {
	meta RunMeta

	mu      sync.RWMutex
	results map[StageName]any
	order   []StageName
}

// Writer is the single write path into a Context.
type Writer struct {
	ctx *Context
}

// NewContext creates an empty context and the writer that owns it.
func NewContext(meta RunMeta) (*Context, *Writer) {
	c := &Context{meta: meta, results: make(map[StageName]any)}
	return c, &Writer{ctx: c}
}

// Meta returns the run metadata.
func (c *Context) Meta() RunMeta { return c.meta }

// ContentType is shorthand for Meta().ContentType.
func (c *Context) ContentType() ContentType { return c.meta.ContentType }

// ArchivePath is shorthand for Meta().ArchivePath.
func (c *Context) ArchivePath() string { return c.meta.ArchivePath }

// Has reports whether stage has a recorded result.
func (c *Context) Has(stage StageName) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.results[stage]
	return ok
}

// Get returns the raw result recorded for stage.
func (c *Context) Get(stage StageName) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.results[stage]
	return v, ok
}

// Completed lists stages with recorded results in the order they were added.
func (c *Context) Completed() []StageName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]StageName, len(c.order))
	copy(out, c.order)
	return out
}

// Snapshot returns a copy of all recorded results keyed by stage.
func (c *Context) Snapshot() map[StageName]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[StageName]any, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Put records the result for stage. A stage may be recorded once.
func (w *Writer) Put(stage StageName, value any) error {
	c := w.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.results[stage]; exists {
		return fmt.Errorf("stage context: result for %s already recorded", stage)
	}
	c.results[stage] = value
	c.order = append(c.order, stage)
	return nil
}

// Decode returns the result for stage as T. Results replayed from the cache
// arrive as JSON and are decoded on access.
func Decode[T any](c *Context, stage StageName) (T, bool, error) {
	raw, ok := c.Get(stage)
	if !ok {
		var zero T
		return zero, false, nil
	}
	value, err := DecodeValue[T](stage, raw)
	return value, true, err
}

// DecodeValue converts one stored result to T. It accepts a value of type T,
// a *T, JSON bytes, or anything that round-trips through JSON.
func DecodeValue[T any](stage StageName, raw any) (T, error) {
	var zero T
	switch v := raw.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, nil
		}
		return *v, nil
	case json.RawMessage:
		return decodeJSON[T](stage, v)
	case []byte:
		return decodeJSON[T](stage, v)
	case nil:
		return zero, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, fmt.Errorf("stage context: encode %s result: %w", stage, err)
	}
	return decodeJSON[T](stage, data)
}

func decodeJSON[T any](stage StageName, data []byte) (T, error) {
	var out T
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("stage context: decode %s result: %w", stage, err)
	}
	return out, nil
}
