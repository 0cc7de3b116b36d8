package pipeline

import (
	"fmt"
	"strings"
)

// StageName identifies a stage. The set is closed: cache keys, weights, and
// registrations are validated against it.
type StageName string

const (
	StageParse      StageName = "parse"
	StageTranscribe StageName = "transcribe"
	StageClean      StageName = "clean"
	StageSlides     StageName = "slides"
	StageLongread   StageName = "longread"
	StageSummarize  StageName = "summarize"
	StageStory      StageName = "story"
	StageChunk      StageName = "chunk"
)

var knownStages = []StageName{
	StageParse,
	StageTranscribe,
	StageClean,
	StageSlides,
	StageLongread,
	StageSummarize,
	StageStory,
	StageChunk,
}

// AllStageNames returns every known stage name in canonical order.
func AllStageNames() []StageName {
	out := make([]StageName, len(knownStages))
	copy(out, knownStages)
	return out
}

// Valid reports whether n is a known stage name.
func (n StageName) Valid() bool {
	for _, known := range knownStages {
		if n == known {
			return true
		}
	}
	return false
}

func (n StageName) String() string { return string(n) }

// ParseStageName converts user input into a StageName.
func ParseStageName(value string) (StageName, error) {
	name := StageName(strings.ToLower(strings.TrimSpace(value)))
	if !name.Valid() {
		return "", fmt.Errorf("unknown stage %q", value)
	}
	return name, nil
}

// ParseStageNames converts a list of names, rejecting unknown entries.
func ParseStageNames(values []string) ([]StageName, error) {
	out := make([]StageName, 0, len(values))
	for _, value := range values {
		name, err := ParseStageName(value)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// ContentType classifies a recording and selects which branch of stages runs.
type ContentType string

const (
	ContentEducational ContentType = "educational"
	ContentLeadership  ContentType = "leadership"
)

// ParseContentType converts user input into a ContentType.
func ParseContentType(value string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(value))) {
	case ContentEducational:
		return ContentEducational, nil
	case ContentLeadership:
		return ContentLeadership, nil
	default:
		return "", fmt.Errorf("unknown content type %q (expected %q or %q)", value, ContentEducational, ContentLeadership)
	}
}

func (c ContentType) String() string { return string(c) }
