// Package config provides the configuration schema, loader, environment
// overlay, hot-reload watcher and provider registry for omnillm.
package config

import (
	"time"

	"github.com/MrWong99/omnillm/internal/toolhost"
	"github.com/MrWong99/omnillm/pkg/provider/llm/local"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProviderType selects the provider implementation for an entry.
type ProviderType string

const (
	TypeAnthropic ProviderType = "anthropic"
	TypeOpenAI    ProviderType = "openai"
	TypeXAI       ProviderType = "xai"
	TypeLocal     ProviderType = "local"
	TypeAnyLLM    ProviderType = "anyllm"
)

// ProviderTypes lists the built-in provider types.
var ProviderTypes = []ProviderType{TypeAnthropic, TypeOpenAI, TypeXAI, TypeLocal, TypeAnyLLM}

// IsValid reports whether t is a built-in provider type.
func (t ProviderType) IsValid() bool {
	switch t {
	case TypeAnthropic, TypeOpenAI, TypeXAI, TypeLocal, TypeAnyLLM:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], or synthesised by [FromEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers []ProviderEntry `yaml:"providers"`

	// DefaultProvider names the entry used when a request does not pick
	// one. Defaults to the first entry.
	DefaultProvider string `yaml:"default_provider"`

	// Fallback lists entry names tried in order after the default provider
	// fails with a retryable error.
	Fallback []string `yaml:"fallback"`

	Defaults GenerationDefaults `yaml:"defaults"`
	MCP      MCPConfig          `yaml:"mcp"`
	Usage    UsageConfig        `yaml:"usage"`
}

// ServerConfig holds network, logging and telemetry settings for the gateway.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// MetricsPath is where Prometheus metrics are served. Default
	// "/metrics"; "-" disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// TraceSampleRatio is the fraction of traces sampled. Zero samples all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry configures one named provider instance.
type ProviderEntry struct {
	// Name identifies the entry in default_provider, fallback and API
	// requests. Must be unique.
	Name string `yaml:"name"`

	// Type selects the implementation registered in the [Registry].
	Type ProviderType `yaml:"type"`

	// APIKey authenticates against the vendor. Filled from the environment
	// by [ApplyEnv] when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the vendor endpoint. Required for local entries.
	BaseURL string `yaml:"base_url"`

	// Model is the vendor model identifier. Local entries use Local.Name.
	Model string `yaml:"model"`

	// Organization is sent as OpenAI-Organization by OpenAI entries.
	Organization string `yaml:"organization"`

	// Timeout bounds each non-streaming request. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration `yaml:"timeout"`

	// Backend selects the any-llm backend for anyllm entries.
	Backend string `yaml:"backend"`

	// Local describes the served model for local entries.
	Local *local.ModelConfig `yaml:"local"`

	// Options holds type-specific settings such as anthropic_version.
	Options map[string]any `yaml:"options"`
}

// ModelName returns the model identifier regardless of entry type.
func (e ProviderEntry) ModelName() string {
	if e.Type == TypeLocal && e.Local != nil && e.Local.Name != "" {
		return e.Local.Name
	}
	return e.Model
}

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// GenerationDefaults are applied to requests that leave a field unset.
type GenerationDefaults struct {
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// MCPConfig holds the list of MCP tool servers to connect to.
type MCPConfig struct {
	Servers []toolhost.ServerConfig `yaml:"servers"`
}

// UsageConfig selects the usage ledger store.
type UsageConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps usage in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Provider returns the entry named name.
func (c *Config) Provider(name string) (ProviderEntry, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderEntry{}, false
}

// DefaultProviderName returns DefaultProvider, or the first entry's name.
func (c *Config) DefaultProviderName() string {
	if c.DefaultProvider != "" {
		return c.DefaultProvider
	}
	if len(c.Providers) > 0 {
		return c.Providers[0].Name
	}
	return ""
}
