// Package search wraps web-search backends behind a Provider that never
// fails: problems come back as single-element sentinel result lists.
package search

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/rs/zerolog"
)

// Result is one search hit, or a sentinel carrying Error or Info.
type Result struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Error   string `json:"error,omitempty"`
	Info    string `json:"info,omitempty"`
}

// Failed reports whether results is an error sentinel.
func Failed(results []Result) (string, bool) {
	if len(results) == 1 && results[0].Error != "" {
		return results[0].Error, true
	}
	return "", false
}

// Provider searches the web for a query.
type Provider interface {
	Search(ctx context.Context, query string) []Result
}

// Async runs p.Search on its own goroutine. The channel receives exactly one
// value and is then closed.
func Async(ctx context.Context, p Provider, query string) <-chan []Result {
	ch := make(chan []Result, 1)
	go func() {
		defer close(ch)
		ch <- p.Search(ctx, query)
	}()
	return ch
}

const BraveProvider = "brave"

// ErrUnsupportedProvider is returned by NewProvider for unknown provider names.
var ErrUnsupportedProvider = errors.New("unsupported search provider")

// KeySource yields the current search credential.
type KeySource interface {
	BraveAPIKey() string
}

// NewProvider builds the configured provider. A missing credential is a
// *apperr.ConfigError.
func NewProvider(cfg config.WebSearchConfig, keys KeySource, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", BraveProvider:
		b, err := NewBrave(cfg, keys.BraveAPIKey(), logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, &apperr.ConfigError{Msg: cfg.Provider, Err: ErrUnsupportedProvider}
	}
}
