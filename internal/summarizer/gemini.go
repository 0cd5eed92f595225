package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/koladefaj/document-intelligence-backend/config"
)

const geminiSystemPrompt = "You are a precise document analyst. You summarize business documents into short factual bullet points."

// GeminiBackend summarizes through Vertex AI.
type GeminiBackend struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiBackend(ctx context.Context, cfg config.GeminiConfig) (*GeminiBackend, error) {
	if cfg.ProjectID == "" || cfg.Location == "" {
		return nil, errors.New("gemini: project_id and location are required")
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(geminiSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](temperature),
	}

	return &GeminiBackend{client: client, model: model}, nil
}

func (g *GeminiBackend) Name() string {
	return "gemini"
}

func (g *GeminiBackend) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(text)))
	if err != nil {
		if isGeminiRateLimit(err) {
			return "", &RateLimitError{Provider: g.Name(), Err: err}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return geminiText(resp), nil
}

func (g *GeminiBackend) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// isGeminiRateLimit classifies throttling from the transport error itself:
// REST surfaces it as googleapi.Error 429, gRPC as ResourceExhausted.
func isGeminiRateLimit(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.ResourceExhausted {
		return true
	}
	return false
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}
