package stages

import "time"

// ParseResult is the recording metadata derived from its filename.
type ParseResult struct {
	Title      string    `json:"title"`
	Speaker    string    `json:"speaker,omitempty"`
	Date       time.Time `json:"date,omitzero"`
	SourcePath string    `json:"source_path"`
	// SlidesPath is the directory of slide images next to the recording,
	// empty when there is none.
	SlidesPath string `json:"slides_path,omitempty"`
}

// Transcript is the raw transcription of a recording.
type Transcript struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// CleanedTranscript is the transcript with filler and transcription noise
// removed.
type CleanedTranscript struct {
	Text string `json:"text"`
}

// Slides holds the extracted text of each slide, in page order.
type Slides struct {
	Pages []string `json:"pages"`
}

// Document is a generated markdown document (longread or story).
type Document struct {
	Title    string `json:"title,omitempty"`
	Markdown string `json:"markdown"`
}

// Summary is the short markdown summary of a longread.
type Summary struct {
	Markdown string `json:"markdown"`
}
