package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/omnillm/internal/config"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/internal/resilience"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ProviderInfo describes one configured provider.
type ProviderInfo struct {
	Name         string              `json:"name"`
	Type         config.ProviderType `json:"type"`
	Model        string              `json:"model"`
	ID           string              `json:"id"`
	DisplayName  string              `json:"display_name"`
	Default      bool                `json:"default"`
	Capabilities llm.Capabilities    `json:"capabilities"`
}

// providerSet is an immutable snapshot swapped atomically on reload.
type providerSet struct {
	names       []string
	entries     map[string]config.ProviderEntry
	byName      map[string]llm.Provider
	defaultName string

	// primary is the default provider, or chain when fallback is set.
	primary llm.Provider
	chain   *resilience.LLMFallback
}

// buildProviders creates every entry and wraps each one so calls are
// traced, metered and recorded in the usage ledger.
func (a *App) buildProviders(cfg *config.Config) (*providerSet, error) {
	raw, err := a.registry.CreateAll(cfg)
	if err != nil {
		return nil, err
	}

	set := &providerSet{
		entries:     make(map[string]config.ProviderEntry, len(cfg.Providers)),
		byName:      make(map[string]llm.Provider, len(cfg.Providers)),
		defaultName: cfg.DefaultProviderName(),
	}
	for _, entry := range cfg.Providers {
		tracked := a.ledger.Track(raw[entry.Name], usage.WithName(entry.Name), usage.WithDefaultModel(entry.ModelName()))
		p := observe.InstrumentProvider(tracked, a.metrics)
		set.names = append(set.names, entry.Name)
		set.entries[entry.Name] = entry
		set.byName[entry.Name] = p
		slog.Info("provider created", "name", entry.Name, "type", entry.Type, "model", entry.ModelName())
	}

	def, ok := set.byName[set.defaultName]
	if !ok {
		return nil, fmt.Errorf("default provider %q not built", set.defaultName)
	}
	set.primary = def

	if len(cfg.Fallback) > 0 {
		chain := resilience.NewLLMFallback(def, set.defaultName, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("provider circuit changed", "provider", name, "from", from.String(), "to", to.String())
				},
			},
			ShouldFallback: resilience.ShouldFallback,
		})
		for _, name := range cfg.Fallback {
			chain.AddFallback(name, set.byName[name])
		}
		set.chain = chain
		set.primary = chain
	}
	return set, nil
}
