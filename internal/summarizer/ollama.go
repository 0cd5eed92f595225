package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/koladefaj/document-intelligence-backend/config"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaBackend talks to a local Ollama server over its chat API.
type OllamaBackend struct {
	client *api.Client
	model  string
}

func NewOllamaBackend(cfg config.OllamaConfig) (*OllamaBackend, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	raw := cfg.BaseURL
	if raw == "" {
		raw = defaultOllamaURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	return &OllamaBackend{
		client: api.NewClient(base, &http.Client{Timeout: timeout}),
		model:  cfg.Model,
	}, nil
}

func (o *OllamaBackend) Name() string {
	return "ollama"
}

func (o *OllamaBackend) Summarize(ctx context.Context, text string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: buildPrompt(text)}},
		Stream:   &stream,
		Options:  map[string]any{"temperature": temperature},
	}

	var b strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			return "", &RateLimitError{Provider: o.Name(), Err: err}
		}
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
