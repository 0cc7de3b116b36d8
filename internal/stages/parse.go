package stages

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lectern/internal/pipeline"
	"lectern/internal/services"
)

// "2024-05-01 - Ada Lovelace - Notes on the Engine"
var recordingNamePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+-\s+(.+?)\s+-\s+(.+)$`)

var slideExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Parse derives talk metadata from the recording's filename and locates
// slide images stored next to it.
type Parse struct {
	pipeline.Descriptor
}

// NewParse builds the parse stage.
func NewParse() *Parse {
	return &Parse{Descriptor: pipeline.Descriptor{ID: pipeline.StageParse}}
}

func (s *Parse) ShouldSkip(*pipeline.Context) bool { return false }

func (s *Parse) Execute(_ context.Context, pctx *pipeline.Context, report pipeline.ProgressFunc) (any, error) {
	source := strings.TrimSpace(pctx.Meta().SourcePath)
	if source == "" {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "inspect recording", "source path is empty", nil)
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, string(s.ID), "inspect recording", source, err)
	}
	if info.IsDir() {
		return nil, services.Wrap(services.ErrValidation, string(s.ID), "inspect recording", source+" is a directory", nil)
	}
	result := ParseRecordingName(source)
	result.SlidesPath = FindSlides(source)
	report(1, result.Title)
	return result, nil
}

// ParseRecordingName extracts title, speaker and date from a recording path.
// Names that do not follow "YYYY-MM-DD - Speaker - Title" yield a title-cased
// stem and no speaker or date.
func ParseRecordingName(path string) ParseResult {
	base := filepath.Base(path)
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	result := ParseResult{SourcePath: path}

	if m := recordingNamePattern.FindStringSubmatch(stem); m != nil {
		if date, err := time.Parse(time.DateOnly, m[1]); err == nil {
			result.Date = date
			result.Speaker = strings.TrimSpace(m[2])
			result.Title = strings.TrimSpace(m[3])
			return result
		}
	}
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(stem))
	result.Title = cases.Title(language.English).String(strings.Join(words, " "))
	if result.Title == "" {
		result.Title = "Untitled Talk"
	}
	return result
}

// FindSlides returns the first directory next to the recording that holds
// slide images: "<stem>.slides", "<stem>_slides", then "slides".
func FindSlides(recording string) string {
	dir := filepath.Dir(recording)
	stem := strings.TrimSuffix(filepath.Base(recording), filepath.Ext(recording))
	for _, candidate := range []string{
		filepath.Join(dir, stem+".slides"),
		filepath.Join(dir, stem+"_slides"),
		filepath.Join(dir, "slides"),
	} {
		if len(SlideImages(candidate)) > 0 {
			return candidate
		}
	}
	return ""
}

// SlideImages lists slide images in dir sorted by name.
func SlideImages(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if slideExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(images)
	return images
}
