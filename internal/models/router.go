package models

import (
	"context"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/rs/zerolog"
)

// Routing policies understood by Router.Select.
const (
	PolicyBalanced   = "balanced"
	PolicyFlashFirst = "flash_first"
	PolicyGeminiOnly = "gemini_only"
	PolicyGPT4oOnly  = "gpt4o_only"
)

// CredentialSource is consulted on every Select so rotated keys apply immediately.
type CredentialSource interface {
	GeminiAPIKey() string
	OpenAIAPIKey() string
	DefaultPolicy() string
}

// Factory builds a capability for an API key.
type Factory func(ctx context.Context, apiKey string) (Capability, error)

// Router picks a model capability for a session according to a policy.
// It keeps no cache: each Select reads credentials and builds a new provider.
type Router struct {
	creds  CredentialSource
	gemini Factory
	gpt    Factory
	log    zerolog.Logger
}

func NewRouter(creds CredentialSource, gemini, gpt Factory, logger zerolog.Logger) *Router {
	return &Router{creds: creds, gemini: gemini, gpt: gpt, log: logger.With().Str("component", "models").Logger()}
}

// NewConfiguredRouter wires the Gemini and GPT SDK providers from cfg.
func NewConfiguredRouter(cfg config.LLMConfig, creds CredentialSource, logger zerolog.Logger) *Router {
	gemini := func(ctx context.Context, key string) (Capability, error) {
		pc := cfg.Gemini
		pc.APIKey = key
		return NewGemini(ctx, pc)
	}
	gpt := func(ctx context.Context, key string) (Capability, error) {
		pc := cfg.OpenAI
		pc.APIKey = key
		return NewGPT(pc)
	}
	return NewRouter(creds, gemini, gpt, logger)
}

// Select resolves policy (explicit, then configured default, then balanced)
// and returns the matching capability, or a *apperr.ConfigError.
func (r *Router) Select(ctx context.Context, sessionID, policy string) (Capability, error) {
	if policy == "" {
		policy = r.creds.DefaultPolicy()
	}
	if policy == "" {
		policy = PolicyBalanced
	}
	geminiKey := r.creds.GeminiAPIKey()
	openaiKey := r.creds.OpenAIAPIKey()

	var (
		c   Capability
		err error
	)
	switch policy {
	case PolicyFlashFirst, PolicyBalanced:
		switch {
		case geminiKey != "":
			c, err = r.gemini(ctx, geminiKey)
		case openaiKey != "":
			c, err = r.gpt(ctx, openaiKey)
		default:
			return nil, apperr.Config("policy %q requires GEMINI_API_KEY or OPENAI_API_KEY", policy)
		}
	case PolicyGPT4oOnly:
		if openaiKey == "" {
			return nil, apperr.Config("policy %q requires OPENAI_API_KEY", policy)
		}
		c, err = r.gpt(ctx, openaiKey)
	case PolicyGeminiOnly:
		if geminiKey == "" {
			return nil, apperr.Config("policy %q requires GEMINI_API_KEY", policy)
		}
		c, err = r.gemini(ctx, geminiKey)
	default:
		return nil, apperr.Config("unsupported policy %q", policy)
	}
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("session_id", sessionID).Str("policy", policy).Str("model", c.Name()).Msg("model selected")
	return c, nil
}
