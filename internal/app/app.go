// Package app wires the omnillm subsystems into a running application.
//
// The App owns the full lifecycle: New builds the usage ledger, connects
// MCP tool servers and constructs the configured providers; Apply swaps in
// a reloaded configuration; Shutdown tears everything down in reverse
// order.
//
// For testing, inject test doubles via functional options (WithRegistry,
// WithUsageStore, WithToolHost). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/internal/config"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/internal/toolhost"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ErrUnknownProvider is returned by [App.Provider] for names that are not
// configured.
var ErrUnknownProvider = errors.New("app: unknown provider")

// App owns all subsystem lifetimes.
type App struct {
	cfg      atomic.Pointer[config.Config]
	set      atomic.Pointer[providerSet]
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar

	store  usage.Store
	ledger *usage.Ledger
	tools  *toolhost.Host

	// reloadMu serialises Apply.
	reloadMu sync.Mutex

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the default provider registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithUsageStore injects a usage store instead of creating one from config.
func WithUsageStore(s usage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithToolHost injects a tool host instead of creating one from config. The
// caller keeps ownership and must close it.
func WithToolHost(h *toolhost.Host) Option {
	return func(a *App) { a.tools = h }
}

// WithMetrics records provider and tool metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.Apply] change the log level of a running process.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// New creates an App from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.cfg.Store(cfg)

	if err := a.initUsage(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("app: init usage: %w", err), a.closeAll())
	}
	if err := a.initTools(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("app: init tools: %w", err), a.closeAll())
	}
	set, err := a.buildProviders(cfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("app: init providers: %w", err), a.closeAll())
	}
	a.set.Store(set)

	slog.Info("application ready",
		"providers", len(set.names),
		"default", set.defaultName,
		"fallback", cfg.Fallback,
		"tools", len(a.tools.Tools()),
	)
	return a, nil
}

// initUsage opens the PostgreSQL ledger when a DSN is configured and falls
// back to memory otherwise.
func (a *App) initUsage(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Load().Usage.PostgresDSN
		if dsn == "" {
			a.store = usage.NewMemoryStore()
		} else {
			pg, err := usage.OpenPostgres(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
			slog.Info("usage ledger backed by postgres")
		}
	}
	a.ledger = usage.NewLedger(a.store)
	return nil
}

// initTools connects the configured MCP servers. A server that fails to
// connect is logged and skipped so one bad entry does not block startup.
func (a *App) initTools(ctx context.Context) error {
	if a.tools == nil {
		a.tools = toolhost.New()
		a.closers = append(a.closers, a.tools.Close)
	}
	servers := a.cfg.Load().MCP.Servers
	if len(servers) == 0 {
		return nil
	}
	if err := a.tools.Connect(ctx, servers); err != nil {
		slog.Warn("some MCP servers failed to connect", "err", err)
	}
	return nil
}

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Ledger returns the usage ledger.
func (a *App) Ledger() *usage.Ledger { return a.ledger }

// Tools returns the tool host.
func (a *App) Tools() *toolhost.Host { return a.tools }

// Provider returns the provider configured under name. The empty name
// selects the default provider, wrapped in the fallback chain when one is
// configured.
func (a *App) Provider(name string) (llm.Provider, error) {
	set := a.set.Load()
	if name == "" {
		return set.primary, nil
	}
	p, ok := set.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Providers describes every configured provider, in configuration order.
func (a *App) Providers() []ProviderInfo {
	set := a.set.Load()
	out := make([]ProviderInfo, 0, len(set.names))
	for _, name := range set.names {
		entry := set.entries[name]
		p := set.byName[name]
		out = append(out, ProviderInfo{
			Name:         name,
			Type:         entry.Type,
			Model:        entry.ModelName(),
			ID:           p.ID(),
			DisplayName:  p.DisplayName(),
			Default:      name == set.defaultName,
			Capabilities: p.Capabilities(),
		})
	}
	return out
}

// CircuitStates reports the breaker state of every fallback entry. It is
// empty when no fallback chain is configured.
func (a *App) CircuitStates() map[string]string {
	set := a.set.Load()
	out := map[string]string{}
	if set.chain == nil {
		return out
	}
	for name, st := range set.chain.States() {
		out[name] = st.String()
	}
	return out
}

// Runner returns an agent runner over the named provider and the tool host.
func (a *App) Runner(provider string, cfg agent.Config) (*agent.Runner, error) {
	p, err := a.Provider(provider)
	if err != nil {
		return nil, err
	}
	cfg.Provider = p
	if cfg.Executor == nil {
		cfg.Executor = observe.InstrumentExecutor(a.tools, a.metrics)
	}
	return agent.New(cfg)
}

// ApplyDefaults fills fields of opts the caller left unset from the
// configured generation defaults.
func (a *App) ApplyDefaults(opts llm.GenerationOptions) llm.GenerationOptions {
	d := a.cfg.Load().Defaults
	if opts.Temperature == nil && d.Temperature != nil {
		t := *d.Temperature
		opts.Temperature = &t
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = d.MaxTokens
	}
	return opts
}

// Ready reports an error when the active provider set is unusable.
func (a *App) Ready(context.Context) error {
	set := a.set.Load()
	if set == nil || set.primary == nil {
		return errors.New("no providers configured")
	}
	return nil
}

// Shutdown releases every subsystem in reverse order of creation. Safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
