package summarizer

import (
	"context"
	"fmt"

	"github.com/koladefaj/document-intelligence-backend/config"
)

const summaryPrompt = `Analyze the document below and extract its most important insights.

Rules:
- Provide exactly 4 bullet points
- One sentence per bullet
- No intro, no conclusion, no headings
- Output only the bullet points

Document:
`

const temperature = 0.2

// Backend turns document text into a summary. Implementations report
// throttling as *RateLimitError and everything else as a plain error.
type Backend interface {
	Name() string
	Summarize(ctx context.Context, text string) (string, error)
}

// NewBackend builds the provider chosen by cfg.Provider.
func NewBackend(ctx context.Context, cfg config.SummarizerConfig) (Backend, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiBackend(ctx, cfg.Gemini)
	case "ollama", "":
		b, err := NewOllamaBackend(cfg.Ollama)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported summarizer provider %q", cfg.Provider)
	}
}

func buildPrompt(text string) string {
	return summaryPrompt + text
}
