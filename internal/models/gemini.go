package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// NewGemini builds a client for cfg. Construction does no network I/O.
func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.Config("gemini api key not set")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &apperr.ConfigError{Msg: "gemini client", Err: err}
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{
		client:      client,
		model:       model,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	gc := &genai.GenerateContentConfig{}
	temp := g.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if temp > 0 {
		t := float32(temp)
		gc.Temperature = &t
	}
	maxTokens := g.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc)
	if err != nil {
		return "", &apperr.ProviderError{Provider: "gemini", Err: err}
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", &apperr.ProviderError{Provider: "gemini", Err: errors.New("empty response")}
	}
	return b.String(), nil
}
