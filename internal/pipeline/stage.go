package pipeline

import "context"

// ProgressFunc receives intra-stage progress as a fraction in [0,1].
type ProgressFunc func(fraction float64, message string)

// Stage is the contract every pipeline step implements.
type Stage interface {
	Name() StageName
	DependsOn() []StageName
	Optional() bool
	// ShouldSkip is evaluated after ordering, just before the stage would run.
	// It may inspect the content type and prior results, never dependents.
	ShouldSkip(pctx *Context) bool
	Execute(ctx context.Context, pctx *Context, progress ProgressFunc) (any, error)
}

// Defaulter supplies the result stored when an optional stage fails.
type Defaulter interface {
	DefaultResult() any
}

// Concurrent marks an optional stage that may run alongside the critical
// chain instead of blocking it.
type Concurrent interface {
	Concurrent() bool
}

// ModelNamer reports the model recorded with a stage's cache entry.
type ModelNamer interface {
	ModelName() string
}

// Descriptor carries the static identity of a stage and is meant to be
// embedded by implementations.
type Descriptor struct {
	ID         StageName
	Deps       []StageName
	IsOptional bool
}

func (d Descriptor) Name() StageName { return d.ID }

func (d Descriptor) DependsOn() []StageName {
	out := make([]StageName, len(d.Deps))
	copy(out, d.Deps)
	return out
}

func (d Descriptor) Optional() bool { return d.IsOptional }

// IsConcurrent reports whether stage is optional and declares itself concurrent.
func IsConcurrent(stage Stage) bool {
	if !stage.Optional() {
		return false
	}
	c, ok := stage.(Concurrent)
	return ok && c.Concurrent()
}

// ModelOf returns the model name a stage reports, if any.
func ModelOf(stage Stage) string {
	if m, ok := stage.(ModelNamer); ok {
		return m.ModelName()
	}
	return ""
}

// DefaultOf returns the failure default for an optional stage.
func DefaultOf(stage Stage) any {
	if d, ok := stage.(Defaulter); ok {
		return d.DefaultResult()
	}
	return nil
}
