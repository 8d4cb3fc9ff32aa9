package app_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/internal/app"
	"github.com/MrWong99/omnillm/internal/config"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/internal/toolhost"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
	llmmock "github.com/MrWong99/omnillm/pkg/provider/llm/mock"
)

// mockFactory hands out one mock per entry name and remembers it so tests
// can script responses and inspect calls.
type mockFactory struct {
	mu      sync.Mutex
	created map[string]*llmmock.Provider
	script  func(config.ProviderEntry, *llmmock.Provider)
	fail    map[string]error
}

func (f *mockFactory) create(e config.ProviderEntry) (llm.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[e.Name]; err != nil {
		return nil, err
	}
	p := &llmmock.Provider{ProviderID: e.Name, Name: e.Name + " " + e.Model}
	if f.script != nil {
		f.script(e, p)
	}
	f.created[e.Name] = p
	return p, nil
}

func (f *mockFactory) get(name string) *llmmock.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}

func newFactory() *mockFactory {
	return &mockFactory{created: map[string]*llmmock.Provider{}, fail: map[string]error{}}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", LogLevel: config.LogInfo},
		Providers: []config.ProviderEntry{
			{Name: "main", Type: config.TypeOpenAI, Model: "gpt-4o", APIKey: "k"},
			{Name: "backup", Type: config.TypeAnthropic, Model: "claude-sonnet-4-5", APIKey: "k"},
		},
		DefaultProvider: "main",
	}
}

func newApp(t *testing.T, cfg *config.Config, f *mockFactory, opts ...app.Option) *app.App {
	t.Helper()
	reg := config.NewRegistry()
	for _, typ := range config.ProviderTypes {
		reg.Register(typ, f.create)
	}
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	base := []app.Option{
		app.WithRegistry(reg),
		app.WithMetrics(m),
		app.WithUsageStore(usage.NewMemoryStore()),
	}
	a, err := app.New(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_Providers(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), newFactory())

	infos := a.Providers()
	if len(infos) != 2 {
		t.Fatalf("Providers() = %d entries, want 2", len(infos))
	}
	if infos[0].Name != "main" || !infos[0].Default || infos[0].Model != "gpt-4o" {
		t.Errorf("infos[0] = %+v", infos[0])
	}
	if infos[1].Default || infos[1].Type != config.TypeAnthropic {
		t.Errorf("infos[1] = %+v", infos[1])
	}

	p, err := a.Provider("")
	if err != nil || p.ID() != "main" {
		t.Errorf("default provider = %v, %v", p, err)
	}
	if _, err := a.Provider("nope"); !errors.Is(err, app.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}
}

func TestNew_FactoryError(t *testing.T) {
	t.Parallel()
	f := newFactory()
	f.fail["backup"] = errors.New("boom")
	reg := config.NewRegistry()
	reg.Register(config.TypeOpenAI, f.create)
	reg.Register(config.TypeAnthropic, f.create)

	_, err := app.New(context.Background(), testConfig(),
		app.WithRegistry(reg),
		app.WithUsageStore(usage.NewMemoryStore()),
	)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestProvider_RecordsUsage(t *testing.T) {
	t.Parallel()
	f := newFactory()
	f.script = func(_ config.ProviderEntry, p *llmmock.Provider) {
		p.CompletionResponse = &llm.CompletionResponse{Text: "hi", Usage: llm.TokenUsage{InputTokens: 4, OutputTokens: 2}}
	}
	a := newApp(t, testConfig(), f)

	p, _ := a.Provider("backup")
	if _, err := p.GenerateCompletion(context.Background(), "hello", "", llm.GenerationOptions{}); err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	recs, err := a.Ledger().Recent(context.Background(), usage.Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].Provider != "backup" || recs[0].Model != "claude-sonnet-4-5" || recs[0].InputTokens != 4 {
		t.Errorf("records = %+v", recs)
	}
}

func TestProvider_Fallback(t *testing.T) {
	t.Parallel()
	f := newFactory()
	f.script = func(e config.ProviderEntry, p *llmmock.Provider) {
		if e.Name == "main" {
			p.CompletionErr = llm.RateLimitError(time.Second)
			return
		}
		p.CompletionResponse = &llm.CompletionResponse{Text: "from backup"}
	}
	cfg := testConfig()
	cfg.Fallback = []string{"backup"}
	a := newApp(t, cfg, f)

	p, _ := a.Provider("")
	resp, err := p.GenerateCompletion(context.Background(), "hello", "", llm.GenerationOptions{})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Text != "from backup" {
		t.Errorf("Text = %q", resp.Text)
	}
	if got := len(f.get("main").CompletionCalls); got != 1 {
		t.Errorf("primary calls = %d, want 1", got)
	}
	states := a.CircuitStates()
	if _, ok := states["backup"]; !ok {
		t.Errorf("CircuitStates() = %v, want backup entry", states)
	}
}

func TestApply_RebuildsProviders(t *testing.T) {
	t.Parallel()
	f := newFactory()
	var level slog.LevelVar
	a := newApp(t, testConfig(), f, app.WithLogLevel(&level))

	next := testConfig()
	next.Providers[0].Model = "gpt-4o-mini"
	next.Server.LogLevel = config.LogDebug

	d, err := a.Apply(next)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !d.ProvidersChanged() || !d.LogLevelChanged {
		t.Errorf("diff = %+v", d)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := a.Providers()[0].Model; got != "gpt-4o-mini" {
		t.Errorf("model after apply = %q", got)
	}
	if a.Config() != next {
		t.Error("Config() must return the applied config")
	}
}

func TestApply_FailureKeepsPrevious(t *testing.T) {
	t.Parallel()
	f := newFactory()
	a := newApp(t, testConfig(), f)

	next := testConfig()
	next.Providers = append(next.Providers, config.ProviderEntry{Name: "broken", Type: config.TypeXAI, Model: "grok-4"})
	f.fail["broken"] = errors.New("no key")

	if _, err := a.Apply(next); err == nil {
		t.Fatal("expected error")
	}
	if len(a.Providers()) != 2 {
		t.Errorf("providers = %d, want previous 2", len(a.Providers()))
	}
	if a.Config() == next {
		t.Error("failed apply must not swap the config")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Defaults = config.GenerationDefaults{Temperature: llm.Float(0.3), MaxTokens: 256}
	a := newApp(t, cfg, newFactory())

	got := a.ApplyDefaults(llm.GenerationOptions{})
	if got.Temperature == nil || *got.Temperature != 0.3 || got.MaxTokens != 256 {
		t.Errorf("defaults = %+v", got)
	}
	got = a.ApplyDefaults(llm.GenerationOptions{Temperature: llm.Float(0), MaxTokens: 10})
	if *got.Temperature != 0 || got.MaxTokens != 10 {
		t.Errorf("explicit values overridden: %+v", got)
	}
}

func TestRunner_UsesToolHost(t *testing.T) {
	t.Parallel()
	f := newFactory()
	f.script = func(_ config.ProviderEntry, p *llmmock.Provider) {
		p.ToolResponses = []*llm.CompletionResponse{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"ping"}`}}},
			{Text: "done"},
		}
	}
	host := toolhost.New()
	t.Cleanup(func() { _ = host.Close() })
	echo := llm.MustTool("echo", "Echo the input.", llm.ToolParameters{
		Properties: map[string]llm.ToolProperty{"text": llm.StringProperty{}},
	})
	if err := host.RegisterBuiltin(echo, func(_ context.Context, call llm.ToolCall) (string, error) {
		return call.Arguments, nil
	}); err != nil {
		t.Fatalf("RegisterBuiltin: %v", err)
	}
	a := newApp(t, testConfig(), f, app.WithToolHost(host))

	r, err := a.Runner("main", agent.Config{})
	if err != nil {
		t.Fatalf("Runner: %v", err)
	}
	res, conv, err := r.RunPrompt(context.Background(), "say ping", "", a.Tools().Tools(), llm.ChooseAuto())
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if res.Response.Text != "done" || res.ToolCalls != 1 {
		t.Errorf("result = %+v", res)
	}
	if conv.Len() != 4 {
		t.Errorf("conversation length = %d, want 4", conv.Len())
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), newFactory())
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.LevelFor(in); got != want {
			t.Errorf("LevelFor(%q) = %v, want %v", in, got, want)
		}
	}
}
