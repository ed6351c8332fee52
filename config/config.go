package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the counsel backend
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Agent     AgentConfig     `mapstructure:"agent"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Security  SecurityConfig  `mapstructure:"security"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	v *viper.Viper
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address     string          `mapstructure:"address"`
	CORSOrigins []string        `mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// Normalize accepts a bare port for Address and lowercases the limiter store.
func (s *ServerConfig) Normalize() {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address != "" && !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	s.RateLimit.Store = strings.ToLower(strings.TrimSpace(s.RateLimit.Store))
}

// RateLimitConfig selects the request limiter. Store is one of off, memory, redis.
type RateLimitConfig struct {
	Store             string        `mapstructure:"store"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Window            time.Duration `mapstructure:"window"`
	Limit             int           `mapstructure:"limit"`
	ExpiresIn         time.Duration `mapstructure:"expires_in"`
}

func (r RateLimitConfig) Validate() error {
	switch r.Store {
	case "", "off", "memory":
	case "redis":
		if r.Window <= 0 || r.Limit <= 0 {
			return fmt.Errorf("server.rate_limit.window and limit must be > 0 for the redis store")
		}
	default:
		return fmt.Errorf("server.rate_limit.store must be off, memory or redis, got %q", r.Store)
	}
	if r.Store == "memory" && r.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 for the memory store")
	}
	return nil
}

// AgentConfig tunes the default pipeline. Retrieval adds a document lookup
// step to plans for requests that carry files.
type AgentConfig struct {
	Retrieval     bool `mapstructure:"retrieval"`
	RetrievalTopK int  `mapstructure:"retrieval_top_k"`
}

// LLMConfig contains model provider configurations
type LLMConfig struct {
	RoutingPolicy string         `mapstructure:"routing_policy"`
	Gemini        ProviderConfig `mapstructure:"gemini"`
	OpenAI        ProviderConfig `mapstructure:"openai"`
}

// ProviderConfig represents a single model provider
type ProviderConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SourcesConfig contains search source configurations
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider    string        `mapstructure:"provider"`
	BraveAPIKey string        `mapstructure:"brave_api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	MaxResults  int           `mapstructure:"max_results"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Sessions SessionStoreConfig `mapstructure:"sessions"`
	Postgres PostgresConfig     `mapstructure:"postgres"`
	Redis    RedisConfig        `mapstructure:"redis"`
}

// SessionStoreConfig picks the session backend. Driver is postgres or sqlite.
type SessionStoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Docstore   bool   `mapstructure:"docstore"`

	// Uploaded documents older than DocstoreTTL are dropped; at most
	// DocstoreMaxDocuments are kept. Zero disables either limit.
	DocstoreTTL          time.Duration `mapstructure:"docstore_ttl"`
	DocstoreMaxDocuments int           `mapstructure:"docstore_max_documents"`
}

func (s SessionStoreConfig) Validate() error {
	switch s.Driver {
	case "postgres":
	case "sqlite":
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("storage.sessions.sqlite_path required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.sessions.driver must be postgres or sqlite, got %q", s.Driver)
	}
	if s.DocstoreTTL < 0 || s.DocstoreMaxDocuments < 0 {
		return fmt.Errorf("storage.sessions docstore limits must not be negative")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, preferring URL when set.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// SecurityConfig holds the session encryption secrets (base64, 32 bytes).
type SecurityConfig struct {
	EncryptionKey string   `mapstructure:"encryption_key"`
	RetiredKeys   []string `mapstructure:"retired_keys"`
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// plain environment names that override their config keys
var envAliases = map[string][]string{
	"llm.gemini.api_key":               {"GEMINI_API_KEY"},
	"llm.openai.api_key":               {"OPENAI_API_KEY"},
	"llm.routing_policy":               {"DEFAULT_MODEL_ROUTING_POLICY"},
	"sources.web_search.brave_api_key": {"BRAVE_SEARCH_API_KEY"},
	"security.encryption_key":          {"SESSION_ENCRYPTION_KEY", "FERNET_KEY"},
	"storage.postgres.url":             {"DATABASE_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 60*time.Second)
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit.store", "memory")
	v.SetDefault("server.rate_limit.requests_per_second", 10)
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.rate_limit.window", time.Minute)
	v.SetDefault("server.rate_limit.limit", 120)
	v.SetDefault("server.rate_limit.expires_in", 3*time.Minute)
	v.SetDefault("agent.retrieval_top_k", 5)
	v.SetDefault("llm.routing_policy", "balanced")
	v.SetDefault("llm.gemini.model", "gemini-2.0-flash")
	v.SetDefault("llm.gemini.timeout", 60*time.Second)
	v.SetDefault("llm.openai.model", "gpt-4o")
	v.SetDefault("llm.openai.timeout", 60*time.Second)
	v.SetDefault("sources.web_search.provider", "brave")
	v.SetDefault("sources.web_search.max_results", 5)
	v.SetDefault("sources.web_search.timeout", 15*time.Second)
	v.SetDefault("storage.sessions.driver", "postgres")
	v.SetDefault("storage.sessions.docstore", true)
	v.SetDefault("storage.sessions.docstore_ttl", 24*time.Hour)
	v.SetDefault("storage.sessions.docstore_max_documents", 10000)
	v.SetDefault("storage.postgres.timeout", 5*time.Second)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("telemetry.service_name", "counsel")
}

// Load reads config from path (or the default search paths) and the environment.
// A missing config file is not an error when no explicit path is given.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("COUNSEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		args := append([]string{key, "COUNSEL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.v = v
	cfg.Server.Normalize()

	if err := cfg.Server.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Sessions.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points: configuration errors are fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
