package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ShouldFallback reports whether err is worth retrying on another provider:
// network failures, throttling, vendor-side errors and unclassified errors.
// Cancellation and caller mistakes (bad requests, auth, context length,
// unsupported features, undecodable output) are returned immediately.
func ShouldFallback(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch llm.KindOf(err) {
	case llm.KindNetwork, llm.KindRateLimit, llm.KindProvider, llm.KindUnknown:
		return true
	default:
		return false
	}
}

// LLMFallback implements [llm.Provider] and [llm.ToolCaller] with automatic
// failover across multiple backends. Each backend has its own circuit
// breaker; when the primary fails with a retryable error or its breaker is
// open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var (
	_ llm.Provider   = (*LLMFallback)(nil)
	_ llm.ToolCaller = (*LLMFallback)(nil)
)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. cfg.ShouldFallback defaults to [ShouldFallback].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.ShouldFallback == nil {
		cfg.ShouldFallback = ShouldFallback
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports each backend's breaker state.
func (f *LLMFallback) States() map[string]State { return f.group.States() }

// ID returns "fallback".
func (f *LLMFallback) ID() string { return "fallback" }

// DisplayName lists the backends in failover order.
func (f *LLMFallback) DisplayName() string {
	return "Fallback (" + strings.Join(f.group.Names(), " → ") + ")"
}

// Capabilities returns the capabilities of the primary. Static metadata
// does not participate in failover.
func (f *LLMFallback) Capabilities() llm.Capabilities {
	return f.group.Primary().Capabilities()
}

// EstimateTokens uses the primary's heuristic.
func (f *LLMFallback) EstimateTokens(text string) int {
	return f.group.Primary().EstimateTokens(text)
}

func (f *LLMFallback) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.GenerateCompletion(ctx, prompt, systemPrompt, opts)
	})
}

func (f *LLMFallback) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (json.RawMessage, error) {
		return p.GenerateStructuredOutput(ctx, prompt, systemPrompt, schema, opts)
	})
}

// StreamCompletion fails over only while opening the stream. Errors after
// the first chunk are delivered on the channel of the provider that opened
// it.
func (f *LLMFallback) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, prompt, systemPrompt, opts)
	})
}

// GenerateCompletionWithTools routes through [llm.GenerateWithTools], so a
// backend without tool support stops the walk with [llm.KindUnsupported].
func (f *LLMFallback) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return llm.GenerateWithTools(ctx, p, conv, choice, opts)
	})
}

func (f *LLMFallback) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return llm.ContinueWithToolResults(ctx, p, conv, opts)
	})
}
