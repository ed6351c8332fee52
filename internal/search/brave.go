package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/rs/zerolog"
)

const (
	BraveEndpoint     = "https://api.search.brave.com/res/v1/web/search"
	defaultBraveCount = 5
	notAvailable      = "N/A"
)

// Brave queries the Brave web search API.
type Brave struct {
	endpoint string
	apiKey   string
	count    int
	http     *HTTPClient
	log      zerolog.Logger
}

func NewBrave(cfg config.WebSearchConfig, apiKey string, logger zerolog.Logger) (*Brave, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.Config("brave search api key not set (BRAVE_SEARCH_API_KEY)")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = BraveEndpoint
	}
	count := cfg.MaxResults
	if count <= 0 {
		count = defaultBraveCount
	}
	return &Brave{
		endpoint: endpoint,
		apiKey:   apiKey,
		count:    count,
		http:     NewHTTPClient(cfg.Timeout, 1, 0),
		log:      logger.With().Str("component", "search").Logger(),
	}, nil
}

type braveResponse struct {
	Web *struct {
		Results []struct {
			Title       *string `json:"title"`
			URL         *string `json:"url"`
			Description *string `json:"description"`
		} `json:"results"`
	} `json:"web"`
	Error any `json:"error"`
}

// Search returns up to count hits for query, or a sentinel describing why none are available.
func (b *Brave) Search(ctx context.Context, query string) []Result {
	if strings.TrimSpace(query) == "" {
		return []Result{{Error: "Query cannot be empty."}}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(b.count))
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.apiKey,
	}

	var resp braveResponse
	if err := b.http.DoJSON(ctx, "GET", b.endpoint+"?"+params.Encode(), headers, nil, &resp); err != nil {
		b.log.Warn().Err(err).Str("query", query).Msg("brave search failed")
		// only transport failures count as failed requests; bad statuses and
		// undecodable bodies are reported as unexpected errors
		var (
			statusErr *StatusError
			decodeErr *DecodeError
		)
		if errors.As(err, &statusErr) || errors.As(err, &decodeErr) {
			return []Result{{Error: fmt.Sprintf("An unexpected error occurred: %v", err)}}
		}
		return []Result{{Error: fmt.Sprintf("HTTP Request failed: %v", err)}}
	}

	var out []Result
	if resp.Web != nil {
		for _, r := range resp.Web.Results {
			out = append(out, Result{
				Title:   orNA(r.Title, plainText),
				URL:     orNA(r.URL, strings.TrimSpace),
				Snippet: orNA(r.Description, plainText),
			})
		}
	}
	if len(out) == 0 && resp.Error != nil {
		return []Result{{Error: fmt.Sprintf("API Error: %v", resp.Error)}}
	}
	if len(out) == 0 {
		return []Result{{Info: "No results found."}}
	}
	return out
}

// SearchAsync is Search on a background goroutine.
func (b *Brave) SearchAsync(ctx context.Context, query string) <-chan []Result {
	return Async(ctx, b, query)
}

func orNA(s *string, clean func(string) string) string {
	if s == nil {
		return notAvailable
	}
	return clean(*s)
}
