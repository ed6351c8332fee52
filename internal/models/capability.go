// Package models exposes generative-text backends behind one Capability
// interface and selects among them by routing policy.
package models

import (
	"context"
	"time"
)

const defaultTimeout = 60 * time.Second

// Options tune a single generation call. Zero values defer to the provider config.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Capability generates text for a prompt.
type Capability interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Func adapts a plain function to Capability; handy for stubs.
type Func struct {
	ID string
	Fn func(ctx context.Context, prompt string, opts Options) (string, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return f.Fn(ctx, prompt, opts)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
