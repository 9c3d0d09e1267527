package analyzer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible vision endpoint
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// OpenAIProvider sends meter photos to an OpenAI-compatible chat completion
// endpoint (Gemini exposes one as well)
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider creates a provider client
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Generate implements Provider
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(req))
	if err != nil {
		return "", fmt.Errorf("provider chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) chatRequest(req Request) openai.ChatCompletionRequest {
	dataURL := "data:" + req.MimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	return openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
		MaxTokens:   p.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: req.Instruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	}
}
