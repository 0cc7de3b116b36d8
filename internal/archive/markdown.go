package archive

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterFence = "---"

// Frontmatter is the metadata block of an archived markdown document.
type Frontmatter struct {
	Title       string `yaml:"title"`
	Speaker     string `yaml:"speaker,omitempty"`
	Date        string `yaml:"date,omitempty"`
	ContentType string `yaml:"content_type"`
	Stage       string `yaml:"stage"`
	Model       string `yaml:"model,omitempty"`
	Version     int    `yaml:"version,omitempty"`
	RunID       string `yaml:"run_id"`
	Generated   string `yaml:"generated"`
}

// RenderMarkdown prefixes body with a YAML frontmatter block.
func RenderMarkdown(fm Frontmatter, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontmatterFence + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString(frontmatterFence + "\n\n")
	buf.WriteString(strings.TrimSpace(body))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// ParseMarkdown splits an archived document into its frontmatter and body.
func ParseMarkdown(data []byte) (Frontmatter, string, error) {
	var fm Frontmatter
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, frontmatterFence+"\n") {
		return fm, "", errors.New("missing frontmatter")
	}
	rest := text[len(frontmatterFence)+1:]
	end := strings.Index(rest, "\n"+frontmatterFence+"\n")
	if end < 0 {
		return fm, "", errors.New("unterminated frontmatter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return fm, "", fmt.Errorf("decode frontmatter: %w", err)
	}
	body := rest[end+len(frontmatterFence)+2:]
	return fm, strings.TrimSpace(body), nil
}
