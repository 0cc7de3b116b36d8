package archive_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lectern/internal/archive"
	"lectern/internal/chunker"
	"lectern/internal/pipeline"
	"lectern/internal/stages"
	"lectern/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func educationalOutcome(dir string) *workflow.Outcome {
	longread := "## Intro\n\nHello **world**.\n\n## Details\n\n- one\n- two"
	return &workflow.Outcome{
		RunID:       "run-1",
		ArchivePath: dir,
		ContentType: pipeline.ContentEducational,
		Order:       []pipeline.StageName{pipeline.StageParse, pipeline.StageClean, pipeline.StageLongread, pipeline.StageSummarize, pipeline.StageChunk},
		Reports: []workflow.StageReport{
			{Stage: pipeline.StageParse, Status: workflow.StatusExecuted, Version: 1},
			{Stage: pipeline.StageClean, Status: workflow.StatusCached, Version: 2, Model: "model-a"},
			{Stage: pipeline.StageLongread, Status: workflow.StatusExecuted, Version: 1, Model: "model-b"},
		},
		Results: map[pipeline.StageName]any{
			pipeline.StageParse: stages.ParseResult{
				Title:   "Systems Thinking",
				Speaker: "Ada Lovelace",
				Date:    time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
			},
			// Replayed results arrive as raw JSON.
			pipeline.StageClean:     json.RawMessage(`{"text":"cleaned words"}`),
			pipeline.StageLongread:  stages.Document{Markdown: longread},
			pipeline.StageSummarize: stages.Summary{Markdown: "Short."},
			pipeline.StageChunk:     chunker.Split(longread, 600),
		},
		StartedAt:  fixedNow.Add(-time.Minute),
		FinishedAt: fixedNow,
	}
}

func TestWriteProducesManifestAndDocuments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "talk")
	writer := archive.NewWriter(archive.WithClock(func() time.Time { return fixedNow }))

	written, err := writer.Write(context.Background(), educationalOutcome(dir))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []string{
		archive.ResultsFileName,
		archive.TranscriptFileName,
		archive.LongreadFileName,
		archive.SummaryFileName,
		archive.ChunksFileName,
	}
	if len(written) != len(want) {
		t.Fatalf("written = %v", written)
	}
	for i, name := range want {
		if filepath.Base(written[i]) != name {
			t.Fatalf("written[%d] = %s, want %s", i, written[i], name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, archive.StoryFileName)); !os.IsNotExist(err) {
		t.Fatalf("story.md should not exist for an educational run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, archive.ResultsFileName))
	if err != nil {
		t.Fatal(err)
	}
	var manifest archive.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.RunID != "run-1" || manifest.ContentType != pipeline.ContentEducational {
		t.Fatalf("manifest header = %+v", manifest)
	}
	if !manifest.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("generated_at = %v", manifest.GeneratedAt)
	}
	if len(manifest.Results) != 5 {
		t.Fatalf("results keys = %d", len(manifest.Results))
	}
	var cleaned stages.CleanedTranscript
	if err := json.Unmarshal(manifest.Results[pipeline.StageClean], &cleaned); err != nil || cleaned.Text != "cleaned words" {
		t.Fatalf("clean result = %+v (%v)", cleaned, err)
	}
}

func TestMarkdownCarriesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writer := archive.NewWriter(archive.WithClock(func() time.Time { return fixedNow }))
	if _, err := writer.Write(context.Background(), educationalOutcome(dir)); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, archive.LongreadFileName))
	if err != nil {
		t.Fatal(err)
	}
	fm, body, err := archive.ParseMarkdown(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fm.Title != "Systems Thinking" || fm.Speaker != "Ada Lovelace" || fm.Date != "2025-11-02" {
		t.Fatalf("frontmatter = %+v", fm)
	}
	if fm.Stage != "longread" || fm.Model != "model-b" || fm.Version != 1 {
		t.Fatalf("stage fields = %+v", fm)
	}
	if fm.Generated != "2026-03-04T10:00:00Z" {
		t.Fatalf("generated = %q", fm.Generated)
	}
	if !strings.HasPrefix(body, "## Intro") {
		t.Fatalf("body = %q", body)
	}

	transcript, err := os.ReadFile(filepath.Join(dir, archive.TranscriptFileName))
	if err != nil {
		t.Fatal(err)
	}
	fm, body, err = archive.ParseMarkdown(transcript)
	if err != nil {
		t.Fatal(err)
	}
	if fm.Version != 2 || fm.Model != "model-a" || body != "cleaned words" {
		t.Fatalf("transcript = %+v %q", fm, body)
	}
}

func TestChunksFileMatchesResult(t *testing.T) {
	dir := t.TempDir()
	outcome := educationalOutcome(dir)
	if _, err := archive.NewWriter().Write(context.Background(), outcome); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, archive.ChunksFileName))
	if err != nil {
		t.Fatal(err)
	}
	var chunks []chunker.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		t.Fatal(err)
	}
	want := outcome.Results[pipeline.StageChunk].([]chunker.Chunk)
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %d, want %d", len(chunks), len(want))
	}
	for i := range chunks {
		if chunks[i].ID != want[i].ID || chunks[i].Index != i {
			t.Fatalf("chunk %d = %+v", i, chunks[i])
		}
	}
}

func TestLeadershipRunWritesStory(t *testing.T) {
	dir := t.TempDir()
	outcome := &workflow.Outcome{
		RunID:       "run-2",
		ArchivePath: dir,
		ContentType: pipeline.ContentLeadership,
		Results: map[pipeline.StageName]any{
			pipeline.StageParse: stages.ParseResult{Title: "Leading Teams"},
			pipeline.StageStory: stages.Document{Markdown: "## Story\n\nOnce."},
		},
	}
	written, err := archive.NewWriter().Write(context.Background(), outcome)
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 2 || filepath.Base(written[1]) != archive.StoryFileName {
		t.Fatalf("written = %v", written)
	}
}

func TestRerunAsLeadershipRemovesEducationalDocuments(t *testing.T) {
	dir := t.TempDir()
	writer := archive.NewWriter(archive.WithDocx(true))
	if _, err := writer.Write(context.Background(), educationalOutcome(dir)); err != nil {
		t.Fatalf("educational write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	leadership := &workflow.Outcome{
		RunID:       "run-2",
		ArchivePath: dir,
		ContentType: pipeline.ContentLeadership,
		Results: map[pipeline.StageName]any{
			pipeline.StageParse: stages.ParseResult{Title: "Systems Thinking"},
			pipeline.StageClean: stages.CleanedTranscript{Text: "cleaned words"},
			pipeline.StageStory: stages.Document{Markdown: "## Story\n\nOnce."},
		},
	}
	if _, err := writer.Write(context.Background(), leadership); err != nil {
		t.Fatalf("leadership write: %v", err)
	}

	for _, name := range []string{archive.LongreadFileName, archive.SummaryFileName, archive.ChunksFileName, archive.LongreadDocxName} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed after the leadership run: %v", name, err)
		}
	}
	for _, name := range []string{archive.ResultsFileName, archive.TranscriptFileName, archive.StoryFileName, archive.StoryDocxName, "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s should exist after the leadership run: %v", name, err)
		}
	}
}

func TestDocxExport(t *testing.T) {
	dir := t.TempDir()
	writer := archive.NewWriter(archive.WithDocx(true))
	written, err := writer.Write(context.Background(), educationalOutcome(dir))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	last := written[len(written)-1]
	if filepath.Base(last) != "longread.docx" {
		t.Fatalf("last written = %s", last)
	}
	info, err := os.Stat(last)
	if err != nil || info.Size() == 0 {
		t.Fatalf("docx missing or empty: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "longread.partial.docx")); !os.IsNotExist(err) {
		t.Fatalf("partial docx left behind: %v", err)
	}
}

func TestWriteRejectsMissingArchivePath(t *testing.T) {
	if _, err := archive.NewWriter().Write(context.Background(), &workflow.Outcome{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseMarkdownRequiresFrontmatter(t *testing.T) {
	if _, _, err := archive.ParseMarkdown([]byte("# no frontmatter")); err == nil {
		t.Fatal("expected error")
	}
}
