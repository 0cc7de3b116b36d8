package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"lectern/internal/textutil"
)

// DefaultMaxWords is the ceiling used when callers pass a non-positive limit.
const DefaultMaxWords = 600

// namespace seeds chunk IDs so equal input always yields equal IDs.
var namespace = uuid.MustParse("5b0f6c0e-3d52-4e0c-9a57-1c4f3a7e2d10")

// Chunk is one bounded unit of a document.
type Chunk struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Topic     string `json:"topic"`
	Header    string `json:"header"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

type section struct {
	topic string
	body  string
}

// Split chunks document with at most maxWords body words per chunk.
func Split(document string, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	var (
		chunks []Chunk
		index  int
	)
	for _, sec := range parseSections(document) {
		paragraphs := textutil.SplitParagraphs(sec.body)
		if len(paragraphs) == 0 {
			continue
		}
		pieces := pack(paragraphs, maxWords)
		for i, piece := range pieces {
			header := sec.topic
			if len(pieces) > 1 {
				header = fmt.Sprintf("%s (%d/%d)", sec.topic, i+1, len(pieces))
			}
			chunks = append(chunks, newChunk(index, sec.topic, header, piece))
			index++
		}
	}
	return chunks
}

func newChunk(index int, topic, header, body string) Chunk {
	text := body
	if header != "" {
		text = "## " + header + "\n\n" + body
	}
	id := uuid.NewSHA1(namespace, []byte(strconv.Itoa(index)+"\x00"+text))
	return Chunk{
		ID:        id.String(),
		Index:     index,
		Topic:     topic,
		Header:    header,
		Text:      text,
		WordCount: textutil.CountWords(body),
	}
}

// pack groups consecutive paragraphs while the running count stays within
// maxWords. An oversize paragraph always forms its own piece.
func pack(paragraphs []string, maxWords int) []string {
	total := 0
	for _, p := range paragraphs {
		total += textutil.CountWords(p)
	}
	if total <= maxWords {
		return []string{strings.Join(paragraphs, "\n\n")}
	}

	var (
		pieces  []string
		current []string
		count   int
	)
	flush := func() {
		if len(current) > 0 {
			pieces = append(pieces, strings.Join(current, "\n\n"))
			current = nil
			count = 0
		}
	}
	for _, p := range paragraphs {
		words := textutil.CountWords(p)
		if len(current) > 0 && count+words > maxWords {
			flush()
		}
		current = append(current, p)
		count += words
		if count > maxWords {
			flush()
		}
	}
	flush()
	return pieces
}

// parseSections splits at "## " headings. Text before the first heading is a
// section with an empty topic; a leading "# " title line is dropped from it.
func parseSections(document string) []section {
	lines := strings.Split(textutil.NormalizeNewlines(document), "\n")
	var (
		sections []section
		topic    string
		body     []string
		started  bool
	)
	emit := func() {
		sections = append(sections, section{topic: topic, body: strings.Join(body, "\n")})
	}
	for _, line := range lines {
		if heading, ok := level2Heading(line); ok {
			if started || len(body) > 0 {
				emit()
			}
			topic, body, started = heading, nil, true
			continue
		}
		if !started && strings.HasPrefix(strings.TrimSpace(line), "# ") {
			continue
		}
		body = append(body, line)
	}
	if started || len(body) > 0 {
		emit()
	}
	return sections
}

func level2Heading(line string) (string, bool) {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), true
}
