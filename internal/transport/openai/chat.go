package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/coverquery/coverquery/internal/domain"
)

// chatTemperature keeps grounded answers deterministic; creativity invites
// hallucinated policy terms.
const chatTemperature = 0.1

// ChatClient generates text via an OpenAI-compatible chat completion endpoint.
type ChatClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// ChatConfig holds the chat endpoint settings. Token may be empty or a
// placeholder ("none", "null") when the endpoint is unauthenticated.
type ChatConfig struct {
	BaseURL string
	Model   string
	Token   string
	Logger  *zap.Logger
}

// NewChatClient creates an OpenAI-compatible chat client.
func NewChatClient(cfg *ChatConfig) *ChatClient {
	clientCfg := openai.DefaultConfig(normalizeToken(cfg.Token))
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	}

	return &ChatClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %v: %w", err, domain.ErrGenerationFailed)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices: %w", domain.ErrGenerationFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

// normalizeToken maps the placeholder values an unauthenticated deployment
// ships ("", "none", "null") to an empty token so no auth header is sent.
func normalizeToken(token string) string {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "", "none", "null":
		return ""
	}
	return token
}

// normalizeBaseURL appends the /v1 segment the client expects when the
// configured URL stops at the host.
func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(raw, "/")
	if strings.Contains(base, "/v1") {
		return base
	}
	return base + "/v1"
}
