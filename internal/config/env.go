package config

import (
	"os"
	"strconv"

	"github.com/MrWong99/omnillm/pkg/provider/llm/local"
)

// Environment variables read by [ApplyEnv] and [FromEnv].
const (
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvXAIKey        = "XAI_API_KEY"
	EnvLocalBaseURL  = "OMNILLM_LOCAL_BASE_URL"
	EnvLocalModel    = "OMNILLM_LOCAL_MODEL"
	EnvLocalContext  = "OMNILLM_LOCAL_CONTEXT_WINDOW"
	EnvDefault       = "OMNILLM_DEFAULT_PROVIDER"
	EnvPostgresDSN   = "OMNILLM_POSTGRES_DSN"
	defaultLocalCtx  = 8192
	defaultListen    = ":8080"
	defaultLogLevel  = LogInfo
	defaultMetricsAt = "/metrics"
)

// Default models used by [FromEnv].
var defaultModels = map[ProviderType]string{
	TypeAnthropic: "claude-sonnet-4-5",
	TypeOpenAI:    "gpt-4o",
	TypeXAI:       "grok-4",
}

// EnvKeyFor returns the API key variable consulted for typ, or "" when the
// type has none.
func EnvKeyFor(typ ProviderType) string {
	switch typ {
	case TypeAnthropic:
		return EnvAnthropicKey
	case TypeOpenAI:
		return EnvOpenAIKey
	case TypeXAI:
		return EnvXAIKey
	}
	return ""
}

// ApplyEnv fills empty API keys from the vendor's environment variable and
// fills unset server fields with defaults. Local and any-llm entries are
// never given a vendor key implicitly.
func ApplyEnv(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if name := EnvKeyFor(p.Type); name != "" {
			p.APIKey = os.Getenv(name)
		}
	}
	if cfg.Usage.PostgresDSN == "" {
		cfg.Usage.PostgresDSN = os.Getenv(EnvPostgresDSN)
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListen
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaultLogLevel
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = defaultMetricsAt
	}
}

// FromEnv builds a configuration without a file: one entry per vendor whose
// API key is set, plus a local entry when OMNILLM_LOCAL_BASE_URL is set.
// The result is validated.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	for _, typ := range []ProviderType{TypeAnthropic, TypeOpenAI, TypeXAI} {
		if os.Getenv(EnvKeyFor(typ)) == "" {
			continue
		}
		cfg.Providers = append(cfg.Providers, ProviderEntry{
			Name:  string(typ),
			Type:  typ,
			Model: defaultModels[typ],
		})
	}
	if base := os.Getenv(EnvLocalBaseURL); base != "" {
		window := defaultLocalCtx
		if n, err := strconv.Atoi(os.Getenv(EnvLocalContext)); err == nil && n > 0 {
			window = n
		}
		model := os.Getenv(EnvLocalModel)
		if model == "" {
			model = "local"
		}
		cfg.Providers = append(cfg.Providers, ProviderEntry{
			Name:    string(TypeLocal),
			Type:    TypeLocal,
			BaseURL: base,
			Local:   &local.ModelConfig{Name: model, ContextWindow: window},
		})
	}
	cfg.DefaultProvider = os.Getenv(EnvDefault)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
