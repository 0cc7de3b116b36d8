package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	// inlineLimit is the largest media payload sent inline; bigger files go
	// through the Files API first.
	inlineLimit = 18 << 20

	// fileStatePollInterval spaces Files.Get calls while an upload is processed.
	fileStatePollInterval = 2 * time.Second

	defaultModel              = "gemini-2.5-flash"
	defaultTranscriptionModel = "gemini-2.5-flash"
	defaultVisionModel        = "gemini-2.5-flash"
)

// Config captures the runtime settings for the Gemini API.
type Config struct {
	APIKey             string
	Model              string
	TranscriptionModel string
	VisionModel        string
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type fileUploader interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
}

// Client wraps the genai SDK for text generation, transcription, and slide reading.
type Client struct {
	cfg          Config
	models       contentGenerator
	uploader     fileUploader
	pollInterval time.Duration
}

// NewClient dials the Gemini API backend.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = normalizeConfig(cfg)
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{cfg: cfg, models: client.Models, uploader: client.Files, pollInterval: fileStatePollInterval}, nil
}

func newClientWith(cfg Config, models contentGenerator, uploader fileUploader) *Client {
	return &Client{cfg: normalizeConfig(cfg), models: models, uploader: uploader, pollInterval: fileStatePollInterval}
}

func normalizeConfig(cfg Config) Config {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cfg.TranscriptionModel = strings.TrimSpace(cfg.TranscriptionModel)
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = defaultTranscriptionModel
	}
	cfg.VisionModel = strings.TrimSpace(cfg.VisionModel)
	if cfg.VisionModel == "" {
		cfg.VisionModel = defaultVisionModel
	}
	return cfg
}

// ModelName reports the text generation model.
func (c *Client) ModelName() string { return c.cfg.Model }

// TranscriptionModel reports the model used for audio transcription.
func (c *Client) TranscriptionModel() string { return c.cfg.TranscriptionModel }

// VisionModel reports the model used for slide extraction.
func (c *Client) VisionModel() string { return c.cfg.VisionModel }

// Generate returns the text produced for the supplied prompts.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", errors.New("gemini generate: user prompt required")
	}
	var config *genai.GenerateContentConfig
	if system := strings.TrimSpace(systemPrompt); system != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}
	result, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(userPrompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText("gemini generate", result)
}

// HealthCheck issues a one-word prompt against the text model.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Generate(ctx, "", "Reply with the single word OK."); err != nil {
		return fmt.Errorf("gemini health: %w", err)
	}
	return nil
}

// Transcribe returns a verbatim transcript of the audio or video file.
func (c *Client) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	part, err := c.mediaPart(ctx, mediaPath)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	parts := []*genai.Part{
		genai.NewPartFromText(transcriptionPrompt),
		part,
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := c.models.GenerateContent(ctx, c.cfg.TranscriptionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return responseText("gemini transcribe", result)
}

// ReadSlide extracts the visible text of one slide image as markdown.
func (c *Client) ReadSlide(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("gemini slide: read %s: %w", imagePath, err)
	}
	parts := []*genai.Part{
		genai.NewPartFromText(slidePrompt),
		genai.NewPartFromBytes(data, mimeTypeFor(imagePath)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := c.models.GenerateContent(ctx, c.cfg.VisionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini slide: %w", err)
	}
	return responseText("gemini slide", result)
}

func (c *Client) mediaPart(ctx context.Context, path string) (*genai.Part, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}
	mimeType := mimeTypeFor(path)
	if info.Size() <= inlineLimit || c.uploader == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read media: %w", err)
		}
		return genai.NewPartFromBytes(data, mimeType), nil
	}
	file, err := c.uploader.UploadFromPath(ctx, path, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}
	file, err = c.awaitActive(ctx, file)
	if err != nil {
		return nil, err
	}
	return genai.NewPartFromURI(file.URI, file.MIMEType), nil
}

// awaitActive polls an uploaded file until Gemini finishes processing it.
// The caller's context bounds the wait.
func (c *Client) awaitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	interval := c.pollInterval
	if interval <= 0 {
		interval = fileStatePollInterval
	}
	for {
		if file == nil {
			return nil, errors.New("upload media: no file returned")
		}
		switch file.State {
		case genai.FileStateActive:
			return file, nil
		case genai.FileStateFailed:
			msg := "processing failed"
			if file.Error != nil && file.Error.Message != "" {
				msg = file.Error.Message
			}
			return nil, fmt.Errorf("upload media %s: %s", file.Name, msg)
		case "", genai.FileStateUnspecified:
			if file.Name == "" {
				return file, nil
			}
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("upload media %s: waiting for active state: %w", file.Name, ctx.Err())
		case <-timer.C:
		}
		next, err := c.uploader.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("upload media %s: get state: %w", file.Name, err)
		}
		file = next
	}
}

func responseText(op string, result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("%s: empty response", op)
	}
	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%s: empty content (finish_reason=%q)", op, result.Candidates[0].FinishReason)
	}
	return text, nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

const transcriptionPrompt = `Transcribe this recording verbatim in its original language.
Return plain text paragraphs only. Do not summarize, translate, or add commentary.
Start a new paragraph when the speaker changes topic.`

const slidePrompt = `Extract all visible text from this presentation slide as markdown.
Keep headings, bullet structure, and any numbers exactly as shown. Return only the markdown.`
