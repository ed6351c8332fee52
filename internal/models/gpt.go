package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultGPTModel = "gpt-4o"

// GPT calls the OpenAI chat completions API.
type GPT struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

func NewGPT(cfg config.ProviderConfig) (*GPT, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.Config("openai api key not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultGPTModel
	}
	return &GPT{
		client:      openai.NewClient(opts...),
		model:       model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *GPT) Name() string { return "openai:" + g.model }

func (g *GPT) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	temp := g.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}
	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &apperr.ProviderError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &apperr.ProviderError{Provider: "openai", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}
