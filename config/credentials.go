package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Credentials resolves provider secrets on every call so keys rotated in the
// environment take effect without a restart.
type Credentials struct {
	v *viper.Viper
}

// Credentials returns the live credential view of this config.
func (c *Config) Credentials() Credentials {
	return Credentials{v: c.v}
}

// EnvCredentials builds a credential view straight from the environment,
// for callers that have no config file.
func EnvCredentials() Credentials {
	v := viper.New()
	setDefaults(v)
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return Credentials{v: v}
}

func (c Credentials) get(key string) string {
	if c.v == nil {
		return ""
	}
	return strings.TrimSpace(c.v.GetString(key))
}

func (c Credentials) GeminiAPIKey() string  { return c.get("llm.gemini.api_key") }
func (c Credentials) OpenAIAPIKey() string  { return c.get("llm.openai.api_key") }
func (c Credentials) DefaultPolicy() string { return c.get("llm.routing_policy") }
func (c Credentials) BraveAPIKey() string   { return c.get("sources.web_search.brave_api_key") }
