package stages

import (
	"fmt"
	"strings"
)

// Prompts holds the system prompts sent by the text stages. Empty fields
// fall back to DefaultPrompts.
type Prompts struct {
	Clean     string
	Longread  string
	Summarize string
	Story     string
}

// DefaultPrompts returns the builtin prompt set.
func DefaultPrompts() Prompts {
	return Prompts{
		Clean: "You edit raw talk transcripts. Remove filler words, false starts and " +
			"transcription artifacts. Keep the speaker's wording and order. " +
			"Return only the cleaned text, separated into paragraphs by blank lines.",
		Longread: "You turn a cleaned talk transcript into a long-form markdown article. " +
			"Organize it into sections that start with '## ' headings. Preserve every " +
			"technical point. Do not add a top-level title.",
		Summarize: "You summarize a markdown article in at most five short paragraphs of " +
			"markdown. Lead with the single most important idea.",
		Story: "You retell a leadership talk as a first-person narrative in markdown. " +
			"Organize it into sections that start with '## ' headings. Keep anecdotes " +
			"and the lessons drawn from them. Do not add a top-level title.",
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if strings.TrimSpace(p.Clean) == "" {
		p.Clean = d.Clean
	}
	if strings.TrimSpace(p.Longread) == "" {
		p.Longread = d.Longread
	}
	if strings.TrimSpace(p.Summarize) == "" {
		p.Summarize = d.Summarize
	}
	if strings.TrimSpace(p.Story) == "" {
		p.Story = d.Story
	}
	return p
}

func cleanUserPrompt(segment string, index, total int) string {
	if total <= 1 {
		return segment
	}
	return fmt.Sprintf("Transcript part %d of %d:\n\n%s", index+1, total, segment)
}

func longreadUserPrompt(meta ParseResult, transcript string, slides []string) string {
	var b strings.Builder
	writeHeader(&b, meta)
	if len(slides) > 0 {
		b.WriteString("Slide text, in order:\n\n")
		for i, page := range slides {
			if strings.TrimSpace(page) == "" {
				continue
			}
			fmt.Fprintf(&b, "Slide %d:\n%s\n\n", i+1, strings.TrimSpace(page))
		}
	}
	b.WriteString("Transcript:\n\n")
	b.WriteString(transcript)
	return b.String()
}

func storyUserPrompt(meta ParseResult, transcript string) string {
	var b strings.Builder
	writeHeader(&b, meta)
	b.WriteString("Transcript:\n\n")
	b.WriteString(transcript)
	return b.String()
}

func writeHeader(b *strings.Builder, meta ParseResult) {
	if meta.Title != "" {
		fmt.Fprintf(b, "Talk title: %s\n", meta.Title)
	}
	if meta.Speaker != "" {
		fmt.Fprintf(b, "Speaker: %s\n", meta.Speaker)
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
}
