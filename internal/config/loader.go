package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/omnillm/pkg/provider/llm/anyllm"
)

// Load reads the YAML configuration file at path, overlays API keys from
// the environment and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies [ApplyEnv] and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider is required"))
	}
	seen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[p.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers[%d]", prefix, p.Name, prev))
			}
			seen[p.Name] = i
		}
		errs = append(errs, validateProvider(prefix, p)...)
	}

	if cfg.DefaultProvider != "" {
		if _, ok := seen[cfg.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider %q does not name a configured provider", cfg.DefaultProvider))
		}
	}
	fallbackSeen := make(map[string]bool, len(cfg.Fallback))
	for i, name := range cfg.Fallback {
		switch {
		case fallbackSeen[name]:
			errs = append(errs, fmt.Errorf("fallback[%d] %q is listed twice", i, name))
		case name == cfg.DefaultProviderName():
			errs = append(errs, fmt.Errorf("fallback[%d] %q is the default provider", i, name))
		default:
			if _, ok := seen[name]; !ok {
				errs = append(errs, fmt.Errorf("fallback[%d] %q does not name a configured provider", i, name))
			}
		}
		fallbackSeen[name] = true
	}

	if t := cfg.Defaults.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("defaults.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Defaults.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("defaults.max_tokens %d must not be negative", cfg.Defaults.MaxTokens))
	}

	serverSeen := make(map[string]bool, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name != "" && serverSeen[srv.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate", prefix, srv.Name))
		}
		serverSeen[srv.Name] = true
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, p ProviderEntry) []error {
	var errs []error
	if !p.Type.IsValid() {
		return append(errs, fmt.Errorf("%s.type %q is invalid; valid values: %v", prefix, p.Type, ProviderTypes))
	}
	if p.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
	}

	switch p.Type {
	case TypeLocal:
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for local providers", prefix))
		}
		if p.Local == nil {
			errs = append(errs, fmt.Errorf("%s.local is required for local providers", prefix))
			break
		}
		if p.Local.Name == "" {
			errs = append(errs, fmt.Errorf("%s.local.name is required", prefix))
		}
		if p.Local.ContextWindow <= 0 {
			errs = append(errs, fmt.Errorf("%s.local.context_window must be positive", prefix))
		}

	case TypeAnyLLM:
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if !slices.Contains(anyllm.Backends, p.Backend) {
			errs = append(errs, fmt.Errorf("%s.backend %q is invalid; valid values: %v", prefix, p.Backend, anyllm.Backends))
		}

	default:
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if p.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required (or set %s)", prefix, EnvKeyFor(p.Type)))
		}
	}

	if p.Local != nil && p.Type != TypeLocal {
		slog.Warn("provider local block is ignored for non-local types", "provider", p.Name, "type", p.Type)
	}
	return errs
}
