package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/okian/evalbench/internal/domain/scoring"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
}

// NewOpenAI builds an OpenAI-compatible backend.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	cc.HTTPClient = cfg.httpClient()
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		name:        cfg.Name,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		client:      openai.NewClientWithConfig(cc),
	}, nil
}

// Name implements scoring.Backend.
func (o *OpenAI) Name() string { return o.name }

// Complete sends the instruction as the system message and the submission as the user message.
func (o *OpenAI) Complete(ctx context.Context, req scoring.Request) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Instruction},
			{Role: openai.ChatMessageRoleUser, Content: req.Submission},
		},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai API error (%d): %w", apiErr.HTTPStatusCode, err)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyReply)
	}
	return resp.Choices[0].Message.Content, nil
}
