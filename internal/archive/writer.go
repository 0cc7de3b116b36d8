package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lectern/internal/chunker"
	"lectern/internal/fileutil"
	"lectern/internal/logging"
	"lectern/internal/pipeline"
	"lectern/internal/services"
	"lectern/internal/stages"
	"lectern/internal/workflow"
)

// File names written into the archive directory.
const (
	ResultsFileName    = "pipeline_results.json"
	TranscriptFileName = "transcript.md"
	LongreadFileName   = "longread.md"
	StoryFileName      = "story.md"
	SummaryFileName    = "summary.md"
	ChunksFileName     = "chunks.json"
	LongreadDocxName   = "longread.docx"
	StoryDocxName      = "story.docx"
)

// derivedFiles are the artifacts a run may or may not produce. Any of them
// left over from an earlier run are removed when the current run did not
// write them.
var derivedFiles = []string{
	TranscriptFileName,
	LongreadFileName,
	StoryFileName,
	SummaryFileName,
	ChunksFileName,
	LongreadDocxName,
	StoryDocxName,
}

// Manifest is the aggregated run document.
type Manifest struct {
	RunID       string                                 `json:"run_id"`
	ArchivePath string                                 `json:"archive_path"`
	ContentType pipeline.ContentType                   `json:"content_type"`
	GeneratedAt time.Time                              `json:"generated_at"`
	StartedAt   time.Time                              `json:"started_at"`
	FinishedAt  time.Time                              `json:"finished_at"`
	Order       []pipeline.StageName                   `json:"order"`
	Stages      []workflow.StageReport                 `json:"stages"`
	Results     map[pipeline.StageName]json.RawMessage `json:"results"`
}

// Writer renders run outcomes to disk.
type Writer struct {
	docx   bool
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Writer.
type Option func(*Writer)

// WithDocx enables DOCX export of the longread or story.
func WithDocx(enabled bool) Option {
	return func(w *Writer) { w.docx = enabled }
}

// WithLogger sets the writer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter constructs a Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "archive")
	return w
}

// Write renders outcome into outcome.ArchivePath and returns the written
// paths in write order.
func (w *Writer) Write(ctx context.Context, outcome *workflow.Outcome) ([]string, error) {
	if outcome == nil || strings.TrimSpace(outcome.ArchivePath) == "" {
		return nil, services.Wrap(services.ErrValidation, "archive", "write", "outcome has no archive path", nil)
	}
	dir := outcome.ArchivePath
	logger := logging.WithContext(ctx, w.logger)

	manifest, err := w.manifest(outcome)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "archive", "encode results", "", err)
	}

	var written []string
	put := func(name string, content []byte) error {
		path := filepath.Join(dir, name)
		if err := fileutil.WriteFileAtomic(path, content, 0o644); err != nil {
			return services.Wrap(services.ErrExternalTool, "archive", "write "+name, "", err)
		}
		written = append(written, path)
		return nil
	}

	if err := put(ResultsFileName, append(data, '\n')); err != nil {
		return written, err
	}

	docs, err := w.documents(outcome)
	if err != nil {
		return written, err
	}
	for _, doc := range docs {
		if err := put(doc.name, doc.content); err != nil {
			return written, err
		}
	}

	if raw, ok := outcome.Results[pipeline.StageChunk]; ok {
		chunks, err := pipeline.DecodeValue[[]chunker.Chunk](pipeline.StageChunk, raw)
		if err != nil {
			return written, services.Wrap(services.ErrValidation, "archive", "decode chunks", "", err)
		}
		encoded, err := EncodeChunks(chunks)
		if err != nil {
			return written, err
		}
		if err := put(ChunksFileName, encoded); err != nil {
			return written, err
		}
	}

	if w.docx {
		path, err := w.exportDocx(outcome)
		if err != nil {
			return written, err
		}
		if path != "" {
			written = append(written, path)
		}
	}

	removed, err := removeStale(dir, written)
	if err != nil {
		return written, err
	}

	logger.Info("archive written",
		logging.String(logging.FieldEventType, "archive_written"),
		logging.Int("files", len(written)),
		logging.Any("removed", removed),
		logging.String("directory", dir),
	)
	return written, nil
}

func removeStale(dir string, written []string) ([]string, error) {
	keep := make(map[string]struct{}, len(written))
	for _, path := range written {
		keep[filepath.Base(path)] = struct{}{}
	}
	var removed []string
	for _, name := range derivedFiles {
		if _, ok := keep[name]; ok {
			continue
		}
		err := os.Remove(filepath.Join(dir, name))
		switch {
		case err == nil:
			removed = append(removed, name)
		case errors.Is(err, os.ErrNotExist):
		default:
			return removed, services.Wrap(services.ErrExternalTool, "archive", "remove stale "+name, "", err)
		}
	}
	return removed, nil
}

func (w *Writer) manifest(outcome *workflow.Outcome) (Manifest, error) {
	results := make(map[pipeline.StageName]json.RawMessage, len(outcome.Results))
	for stage, value := range outcome.Results {
		raw, err := rawJSON(value)
		if err != nil {
			return Manifest{}, services.Wrap(services.ErrValidation, "archive", "encode "+string(stage), "", err)
		}
		results[stage] = raw
	}
	return Manifest{
		RunID:       outcome.RunID,
		ArchivePath: outcome.ArchivePath,
		ContentType: outcome.ContentType,
		GeneratedAt: w.now().UTC(),
		StartedAt:   outcome.StartedAt.UTC(),
		FinishedAt:  outcome.FinishedAt.UTC(),
		Order:       outcome.Order,
		Stages:      outcome.Reports,
		Results:     results,
	}, nil
}

func rawJSON(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return data, nil
}

type document struct {
	name    string
	content []byte
}

func (w *Writer) documents(outcome *workflow.Outcome) ([]document, error) {
	meta, err := decodeResult[stages.ParseResult](outcome, pipeline.StageParse)
	if err != nil {
		return nil, err
	}
	base := Frontmatter{
		Title:       meta.Title,
		Speaker:     meta.Speaker,
		ContentType: string(outcome.ContentType),
		RunID:       outcome.RunID,
		Generated:   w.now().UTC().Format(time.RFC3339),
	}
	if !meta.Date.IsZero() {
		base.Date = meta.Date.Format("2006-01-02")
	}

	var docs []document
	add := func(name string, stage pipeline.StageName, title, body string) error {
		fm := base
		fm.Stage = string(stage)
		if title != "" {
			fm.Title = title
		}
		if report, ok := outcome.Report(stage); ok {
			fm.Model = report.Model
			fm.Version = report.Version
		}
		content, err := RenderMarkdown(fm, body)
		if err != nil {
			return services.Wrap(services.ErrValidation, "archive", "render "+name, "", err)
		}
		docs = append(docs, document{name: name, content: content})
		return nil
	}

	if cleaned, ok, err := lookup[stages.CleanedTranscript](outcome, pipeline.StageClean); err != nil {
		return nil, err
	} else if ok && strings.TrimSpace(cleaned.Text) != "" {
		if err := add(TranscriptFileName, pipeline.StageClean, "", cleaned.Text); err != nil {
			return nil, err
		}
	}
	for _, spec := range []struct {
		stage pipeline.StageName
		name  string
	}{
		{pipeline.StageLongread, LongreadFileName},
		{pipeline.StageStory, StoryFileName},
	} {
		doc, ok, err := lookup[stages.Document](outcome, spec.stage)
		if err != nil {
			return nil, err
		}
		if !ok || strings.TrimSpace(doc.Markdown) == "" {
			continue
		}
		if err := add(spec.name, spec.stage, doc.Title, doc.Markdown); err != nil {
			return nil, err
		}
	}
	if summary, ok, err := lookup[stages.Summary](outcome, pipeline.StageSummarize); err != nil {
		return nil, err
	} else if ok && strings.TrimSpace(summary.Markdown) != "" {
		if err := add(SummaryFileName, pipeline.StageSummarize, "", summary.Markdown); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func lookup[T any](outcome *workflow.Outcome, stage pipeline.StageName) (T, bool, error) {
	raw, ok := outcome.Results[stage]
	if !ok {
		var zero T
		return zero, false, nil
	}
	value, err := pipeline.DecodeValue[T](stage, raw)
	if err != nil {
		return value, false, services.Wrap(services.ErrValidation, "archive", "decode "+string(stage), "", err)
	}
	return value, true, nil
}

func decodeResult[T any](outcome *workflow.Outcome, stage pipeline.StageName) (T, error) {
	value, _, err := lookup[T](outcome, stage)
	return value, err
}

// EncodeChunks renders chunks the way chunks.json stores them.
func EncodeChunks(chunks []chunker.Chunk) ([]byte, error) {
	if chunks == nil {
		chunks = []chunker.Chunk{}
	}
	encoded, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "archive", "encode chunks", "", err)
	}
	return append(encoded, '\n'), nil
}
