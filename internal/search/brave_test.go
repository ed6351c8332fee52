package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/rs/zerolog"
)

func newTestBrave(t *testing.T, handler http.HandlerFunc) *Brave {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := NewBrave(config.WebSearchConfig{Endpoint: srv.URL, Timeout: 2 * time.Second}, "brave-key", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBrave: %v", err)
	}
	b.http.backoff = time.Millisecond
	return b
}

func TestBraveSearchMapsResults(t *testing.T) {
	b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Errorf("missing subscription token")
		}
		if got := r.URL.Query().Get("q"); got != "capital of France" {
			t.Errorf("unexpected query %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "5" {
			t.Errorf("expected count=5, got %q", got)
		}
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"Paris - Wikipedia","url":"https://en.wikipedia.org/wiki/Paris","description":"Paris is the capital of France."},
			{"url":"https://example.com"}
		]}}`))
	})

	results := b.Search(context.Background(), "capital of France")
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "Paris - Wikipedia" || results[0].Snippet != "Paris is the capital of France." {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].Title != "N/A" || results[1].Snippet != "N/A" || results[1].URL != "https://example.com" {
		t.Fatalf("missing fields should map to N/A: %+v", results[1])
	}
}

func TestBraveSearchStripsMarkup(t *testing.T) {
	b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Tenant&#39;s <strong>rights</strong>","url":"https://example.com/rights","description":"Know your <strong>rights</strong> &amp; duties<script>alert(1)</script>"}]}}`))
	})
	results := b.Search(context.Background(), "tenant rights")
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %+v", results)
	}
	if results[0].Title != "Tenant's rights" {
		t.Fatalf("title = %q", results[0].Title)
	}
	if results[0].Snippet != "Know your rights & duties" {
		t.Fatalf("snippet = %q", results[0].Snippet)
	}
}

func TestBraveSearchSentinels(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status int
		prefix string
		info   bool
	}{
		{"no results", `{"web":{"results":[]}}`, http.StatusOK, "No results found.", true},
		{"api error", `{"error":"quota exceeded"}`, http.StatusOK, "API Error: quota exceeded", false},
		{"http error", `forbidden`, http.StatusForbidden, "An unexpected error occurred: 403", false},
		{"bad json", `{not json`, http.StatusOK, "An unexpected error occurred:", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			results := b.Search(context.Background(), "anything")
			if len(results) != 1 {
				t.Fatalf("expected a single sentinel, got %+v", results)
			}
			got := results[0].Error
			if tc.info {
				got = results[0].Info
			}
			if !strings.HasPrefix(got, tc.prefix) {
				t.Fatalf("expected prefix %q, got %+v", tc.prefix, results[0])
			}
		})
	}
}

func TestBraveSearchRetriesServerErrors(t *testing.T) {
	var calls int32
	b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"t","url":"u","description":"d"}]}}`))
	})
	results := b.Search(context.Background(), "retry me")
	if len(results) != 1 || results[0].Title != "t" {
		t.Fatalf("unexpected results %+v", results)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestBraveSearchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	b, err := NewBrave(config.WebSearchConfig{Endpoint: endpoint, Timeout: time.Second}, "brave-key", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBrave: %v", err)
	}
	b.http.retries = 0
	results := b.Search(context.Background(), "unreachable")
	if msg, failed := Failed(results); !failed || !strings.HasPrefix(msg, "HTTP Request failed:") {
		t.Fatalf("unexpected result %+v", results)
	}
}

func TestBraveSearchEmptyQuery(t *testing.T) {
	b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for an empty query")
	})
	results := b.Search(context.Background(), "  ")
	if msg, failed := Failed(results); !failed || msg != "Query cannot be empty." {
		t.Fatalf("unexpected result %+v", results)
	}
}

func TestSearchAsyncDeliversOnce(t *testing.T) {
	b := newTestBrave(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"async","url":"u","description":"d"}]}}`))
	})
	ch := b.SearchAsync(context.Background(), "async")
	results, ok := <-ch
	if !ok || len(results) != 1 || results[0].Title != "async" {
		t.Fatalf("unexpected async result %+v", results)
	}
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after one value")
	}
}

type keys string

func (k keys) BraveAPIKey() string { return string(k) }

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(config.WebSearchConfig{}, keys(""), zerolog.Nop()); apperr.KindOf(err) != apperr.KindConfig {
		t.Fatalf("expected config error for missing key, got %v", err)
	}
	if _, err := NewProvider(config.WebSearchConfig{Provider: "bing"}, keys("k"), zerolog.Nop()); apperr.KindOf(err) != apperr.KindConfig {
		t.Fatalf("expected config error for unknown provider, got %v", err)
	}
	p, err := NewProvider(config.WebSearchConfig{Provider: "brave"}, keys("k"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.(*Brave); !ok {
		t.Fatalf("expected *Brave, got %T", p)
	}
}
