package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"tally/internal/core"
)

// MaxReceiptBytes is the largest upload the extractor accepts.
const MaxReceiptBytes = 10 << 20

const DefaultModel = "gemini-2.0-flash"

var allowedMIMETypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

var (
	ErrUnsupportedMIME = errors.New("unsupported file type (want jpeg, png or pdf)")
	ErrTooLarge        = errors.New("file exceeds 10 MiB limit")
	ErrNotConfigured   = errors.New("extraction service not configured")
)

// ValidateInput gates a receipt upload before any model call.
func ValidateInput(mimeType string, size int64) error {
	if !allowedMIMETypes[mimeType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}
	if size > MaxReceiptBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return nil
}

// Extractor sends receipt images to Gemini and sanitizes the reply.
type Extractor struct {
	client *genai.Client
	model  string
}

func NewExtractor(ctx context.Context, apiKey, model string) (*Extractor, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Extractor{client: client, model: model}, nil
}

// Extract runs one receipt through the model and returns the sanitized
// result. runDate substitutes an unparseable receipt date.
func (e *Extractor) Extract(ctx context.Context, image []byte, mimeType string, categories []Category, runDate core.Date) (Result, error) {
	if err := ValidateInput(mimeType, int64(len(image))); err != nil {
		return Result{}, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(categories)},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return Result{}, fmt.Errorf("empty response from model")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &payload); err != nil {
		return Result{}, fmt.Errorf("decode model output: %w", err)
	}

	return Sanitize(payload, categories, runDate), nil
}

func buildPrompt(categories []Category) string {
	var b strings.Builder
	b.WriteString("You are a receipt parser for a personal-finance tracker.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Read the attached receipt and output STRICT JSON only (no comments, no extra text).\n")
	b.WriteString("- Output a single JSON object with these fields:\n")
	b.WriteString("  - \"description\": string, short summary of the purchase\n")
	b.WriteString("  - \"amount\": number, the grand total\n")
	b.WriteString("  - \"date\": string, ISO format \"YYYY-MM-DD\"\n")
	b.WriteString("  - \"merchant\": string or null\n")
	b.WriteString("  - \"tax\": number or null\n")
	b.WriteString("  - \"tip\": number or null\n")
	b.WriteString("  - \"confidence\": number 0-100, how confident you are overall\n")
	b.WriteString("  - \"suggested_category\": {\"id\": number, \"name\": string} from the list below, or null\n")
	b.WriteString("  - \"uncertainties\": array of strings describing anything you could not read\n")
	b.WriteString("  - \"raw_text\": string, the text you could read off the receipt\n\n")

	if len(categories) > 0 {
		b.WriteString("Categories to choose from:\n")
		for _, c := range categories {
			fmt.Fprintf(&b, "- id %d: %s\n", c.ID, c.Name)
		}
		b.WriteString("\n")
	}

	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk if the model
// ignored instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// If there is still junk around the JSON object, keep only from the
	// first '{' to the last '}'.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
