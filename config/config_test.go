package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, names := range envAliases {
		for _, n := range names {
			t.Setenv(n, "")
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.RoutingPolicy != "balanced" {
		t.Fatalf("expected balanced policy, got %q", cfg.LLM.RoutingPolicy)
	}
	if cfg.Sources.WebSearch.MaxResults != 5 {
		t.Fatalf("expected 5 search results, got %d", cfg.Sources.WebSearch.MaxResults)
	}
	if cfg.LLM.Gemini.Timeout != 60*time.Second {
		t.Fatalf("unexpected gemini timeout %s", cfg.LLM.Gemini.Timeout)
	}
	if cfg.Storage.Sessions.Driver != "postgres" {
		t.Fatalf("unexpected session driver %q", cfg.Storage.Sessions.Driver)
	}
	if cfg.Storage.Sessions.DocstoreTTL != 24*time.Hour || cfg.Storage.Sessions.DocstoreMaxDocuments != 10000 {
		t.Fatalf("unexpected docstore limits %s/%d", cfg.Storage.Sessions.DocstoreTTL, cfg.Storage.Sessions.DocstoreMaxDocuments)
	}
}

func TestCredentialsAreReadFresh(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeConfig(t, `{"llm": {"openai": {"api_key": "from-file"}}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	creds := cfg.Credentials()
	if got := creds.OpenAIAPIKey(); got != "from-file" {
		t.Fatalf("expected file key, got %q", got)
	}
	if creds.GeminiAPIKey() != "" {
		t.Fatalf("expected no gemini key")
	}

	t.Setenv("GEMINI_API_KEY", "g-1")
	if got := creds.GeminiAPIKey(); got != "g-1" {
		t.Fatalf("expected g-1, got %q", got)
	}
	t.Setenv("GEMINI_API_KEY", "g-2")
	if got := creds.GeminiAPIKey(); got != "g-2" {
		t.Fatalf("expected rotated key g-2, got %q", got)
	}
	t.Setenv("OPENAI_API_KEY", "from-env")
	if got := creds.OpenAIAPIKey(); got != "from-env" {
		t.Fatalf("expected env to override file, got %q", got)
	}
}

func TestLoadRejectsInvalidSections(t *testing.T) {
	clearCredentialEnv(t)
	bad := []string{
		`{"server": {"rate_limit": {"store": "memcached"}}}`,
		`{"storage": {"sessions": {"driver": "sqlite"}}}`,
		`{"storage": {"sessions": {"driver": "mysql"}}}`,
		`{"storage": {"sessions": {"docstore_max_documents": -1}}}`,
	}
	for _, body := range bad {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", User: "u", Password: "p", DBName: "counsel"}
	if got := p.DSN(); got != "postgres://u:p@db:5432/counsel?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	p.URL = "postgres://override"
	if p.DSN() != "postgres://override" {
		t.Fatalf("url must win")
	}
	if err := (PostgresConfig{}).Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadNormalizesServer(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeConfig(t, `{"server": {"address": "9000", "rate_limit": {"store": " Memory "}}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.RateLimit.Store != "memory" {
		t.Fatalf("store = %q", cfg.Server.RateLimit.Store)
	}
	if cfg.Agent.RetrievalTopK != 5 || cfg.Agent.Retrieval {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
}

func TestFernetKeyAlias(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("FERNET_KEY", "fernet-secret")
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.EncryptionKey != "fernet-secret" {
		t.Fatalf("encryption key = %q", cfg.Security.EncryptionKey)
	}

	t.Setenv("SESSION_ENCRYPTION_KEY", "session-secret")
	cfg, err = Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Security.EncryptionKey != "session-secret" {
		t.Fatalf("SESSION_ENCRYPTION_KEY should take precedence, got %q", cfg.Security.EncryptionKey)
	}
}
