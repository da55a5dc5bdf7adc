package cover

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ent0n29/tunesmith/internal/artifacts"
)

// contentGenerator is the subset of *genai.Models the gateway uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGateway generates covers with a Gemini image model.
type GeminiGateway struct {
	models contentGenerator
	model  string
	store  *artifacts.Store
	logger *zap.Logger
}

func NewGeminiGateway(ctx context.Context, apiKey, model string, store *artifacts.Store, logger *zap.Logger) (*GeminiGateway, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiGateway(client.Models, model, store, logger), nil
}

func newGeminiGateway(models contentGenerator, model string, store *artifacts.Store, logger *zap.Logger) *GeminiGateway {
	if model == "" {
		model = "gemini-2.0-flash-exp-image-generation"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiGateway{models: models, model: model, store: store, logger: logger}
}

func (g *GeminiGateway) Generate(ctx context.Context, stylePrompt string) (Image, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(stylePrompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if resp == nil {
		return Image{}, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				g.logger.Debug("gemini text part", zap.String("text", truncate(part.Text, 120)))
			}
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			name := uuid.NewString() + extensionFor(mime)
			locator, err := g.store.Save(artifacts.KindImage, name, bytes.NewReader(part.InlineData.Data))
			if err != nil {
				return Image{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
			}
			return Image{Locator: locator, MIMEType: mime}, nil
		}
	}
	return Image{}, fmt.Errorf("%w: response contained no image", ErrGenerationFailed)
}

func extensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
