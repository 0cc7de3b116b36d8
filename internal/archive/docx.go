package archive

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"

	"lectern/internal/fileutil"
	"lectern/internal/pipeline"
	"lectern/internal/services"
	"lectern/internal/stages"
	"lectern/internal/workflow"
)

const (
	docxFont     = "Calibri"
	docxFontSize = 11
)

var (
	reHeading  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	reBold     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet   = regexp.MustCompile(`^[\-\*]\s+(.+)$`)
	reNumbered = regexp.MustCompile(`^\d+\.\s+(.+)$`)
)

// exportDocx writes the run's longread, or its story for leadership runs,
// as <name>.docx. It returns "" when the run produced neither.
func (w *Writer) exportDocx(outcome *workflow.Outcome) (string, error) {
	for _, spec := range []struct {
		stage pipeline.StageName
		name  string
	}{
		{pipeline.StageLongread, LongreadDocxName},
		{pipeline.StageStory, StoryDocxName},
	} {
		doc, ok, err := lookup[stages.Document](outcome, spec.stage)
		if err != nil {
			return "", err
		}
		if !ok || strings.TrimSpace(doc.Markdown) == "" {
			continue
		}
		title := doc.Title
		if title == "" {
			meta, _ := decodeResult[stages.ParseResult](outcome, pipeline.StageParse)
			title = meta.Title
		}
		path := filepath.Join(outcome.ArchivePath, spec.name)
		if err := writeDocx(title, doc.Markdown, path); err != nil {
			return "", services.Wrap(services.ErrExternalTool, "archive", "export docx", "", err)
		}
		return path, nil
	}
	return "", nil
}

// writeDocx renders markdown into a docx at path. The document is saved to
// a sibling temp file first and moved into place.
func writeDocx(title, markdown, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return err
	}
	if strings.TrimSpace(title) != "" {
		addStyledRun(doc.AddParagraph(""), title, true, 16)
	}

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" {
			continue
		}
		if m := reHeading.FindStringSubmatch(trimmed); m != nil {
			addStyledRun(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
			continue
		}
		if m := reBullet.FindStringSubmatch(trimmed); m != nil {
			addRichText(doc.AddParagraph(""), "• "+m[1])
			continue
		}
		if reNumbered.MatchString(trimmed) {
			addRichText(doc.AddParagraph(""), trimmed)
			continue
		}
		addRichText(doc.AddParagraph(""), trimmed)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := strings.TrimSuffix(path, ".docx") + ".partial.docx"
	if err := doc.SaveTo(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fileutil.MoveFile(tmp, path)
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 14
	case 3:
		return 12
	default:
		return docxFontSize
	}
}

func addStyledRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(cleanInline(text)).Font(docxFont).Size(size)
	if bold {
		run.Bold(true)
	}
}

func addRichText(p *docx.Paragraph, text string) {
	parts := reBold.Split(text, -1)
	matches := reBold.FindAllStringSubmatch(text, -1)
	for i, part := range parts {
		if part != "" {
			p.AddText(cleanInline(part)).Font(docxFont).Size(docxFontSize)
		}
		if i < len(matches) {
			p.AddText(cleanInline(matches[i][1])).Font(docxFont).Size(docxFontSize).Bold(true)
		}
	}
}

func cleanInline(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.ReplaceAll(s, "`", "")
}
