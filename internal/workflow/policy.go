package workflow

import (
	"strconv"
	"strings"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// CachePolicy controls replay of stored results.
type CachePolicy struct {
	// Reuse replays the current version of every stage that has one.
	Reuse bool
	// Versions pins stages to an exact cached version. A pinned stage is
	// replayed even when Reuse is false; a missing pinned version fails the
	// stage instead of falling back.
	Versions map[pipeline.StageName]int
	// Refresh forces stages to execute even when a cached result exists.
	Refresh map[pipeline.StageName]bool
}

// ReuseAll returns a policy replaying every current version.
func ReuseAll() CachePolicy { return CachePolicy{Reuse: true} }

// NoCache returns a policy that executes every stage.
func NoCache() CachePolicy { return CachePolicy{} }

// lookup reports whether stage should be loaded from the cache and which
// version to ask for (0 selects the current version).
func (p CachePolicy) lookup(stage pipeline.StageName) (int, bool) {
	if p.Refresh[stage] {
		return 0, false
	}
	if v, ok := p.Versions[stage]; ok && v > 0 {
		return v, true
	}
	return 0, p.Reuse
}

// ParseVersionPin parses a "stage:N" pin as accepted by the CLI and API.
func ParseVersionPin(value string) (pipeline.StageName, int, error) {
	stage, rawVersion, ok := strings.Cut(value, ":")
	if !ok {
		return "", 0, services.Wrap(services.ErrValidation, "", "parse version pin", "version pins use stage:N", nil)
	}
	name, err := pipeline.ParseStageName(stage)
	if err != nil {
		return "", 0, services.Wrap(services.ErrValidation, "", "parse version pin", "", err)
	}
	version, err := strconv.Atoi(strings.TrimSpace(rawVersion))
	if err != nil || version <= 0 {
		return "", 0, services.Wrap(services.ErrValidation, string(name), "parse version pin", "version must be a positive integer", nil)
	}
	return name, version, nil
}
