// Package gemini generates text via the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/coverquery/coverquery/internal/domain"
)

// chatTemperature mirrors the local provider: grounded answers, no creativity.
const chatTemperature = float32(0.1)

// Client generates answers with a Gemini model.
type Client struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// Config holds Gemini API settings.
type Config struct {
	APIKey string
	Model  string
	Logger *zap.Logger
}

// New creates a Gemini client. The API key is required; provider selection
// happens at startup, so a missing key fails fast.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key: %w", domain.ErrMissingCredential)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}

	return &Client{client: client, model: cfg.Model, logger: cfg.Logger}, nil
}

// Complete sends one system+user exchange and returns the model text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(chatTemperature),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generation: %v: %w", err, domain.ErrGenerationFailed)
	}

	var b strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					b.WriteString(part.Text)
				}
			}
			if b.Len() > 0 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text: %w", domain.ErrGenerationFailed)
	}
	return b.String(), nil
}
