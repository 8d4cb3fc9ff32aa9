// Package mock provides a test double for the llm.Provider and llm.ToolCaller
// interfaces.
//
// Use Provider in unit tests to verify what callers send and to feed
// controlled responses without a live vendor. All fields are safe to set
// before calling any method; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    CompletionResponse: &llm.CompletionResponse{Text: "Hello!"},
//	}
//	resp, err := p.GenerateCompletion(ctx, "Hi", "", llm.GenerationOptions{})
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// PromptCall records a prompt-based invocation (completion, structured output
// or stream).
type PromptCall struct {
	Ctx          context.Context
	Prompt       string
	SystemPrompt string
	Schema       json.RawMessage
	Opts         llm.GenerationOptions
}

// ToolCall records an invocation of GenerateCompletionWithTools or
// ContinueWithToolResults. Conversation is a snapshot taken at call time.
type ToolCall struct {
	Ctx          context.Context
	Conversation *llm.Conversation
	Choice       llm.ToolChoice
	Continue     bool
	Opts         llm.GenerationOptions
}

// Provider is a mock implementation of llm.Provider and llm.ToolCaller.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set the Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Identity ---

	// ProviderID and Name are returned by ID and DisplayName. They default to
	// "mock" and "Mock".
	ProviderID string
	Name       string

	// Caps is returned by Capabilities.
	Caps llm.Capabilities

	// --- Configurable responses ---

	// CompletionResponse and CompletionErr are returned by GenerateCompletion.
	CompletionResponse *llm.CompletionResponse
	CompletionErr      error

	// StructuredResponse and StructuredErr are returned by
	// GenerateStructuredOutput.
	StructuredResponse json.RawMessage
	StructuredErr      error

	// StreamChunks is emitted in order by StreamCompletion. StreamErr, if
	// non-nil, is returned instead of opening a channel.
	StreamChunks []llm.Chunk
	StreamErr    error

	// ToolResponses are returned one per tool-calling invocation, in order.
	// Once exhausted the last response is repeated. ToolErr, if non-nil, is
	// returned instead.
	ToolResponses []*llm.CompletionResponse
	ToolErr       error

	// TokenEstimate, if positive, overrides the default estimate.
	TokenEstimate int

	// --- Call records (read after test) ---

	CompletionCalls []PromptCall
	StructuredCalls []PromptCall
	StreamCalls     []PromptCall
	ToolCalls       []ToolCall
}

// ID returns ProviderID or "mock".
func (p *Provider) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderID == "" {
		return "mock"
	}
	return p.ProviderID
}

// DisplayName returns Name or "Mock".
func (p *Provider) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Name == "" {
		return "Mock"
	}
	return p.Name
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() llm.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// GenerateCompletion records the call and returns CompletionResponse,
// CompletionErr.
func (p *Provider) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompletionCalls = append(p.CompletionCalls, PromptCall{Ctx: ctx, Prompt: prompt, SystemPrompt: systemPrompt, Opts: opts})
	return p.CompletionResponse, p.CompletionErr
}

// GenerateStructuredOutput records the call and returns StructuredResponse,
// StructuredErr.
func (p *Provider) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StructuredCalls = append(p.StructuredCalls, PromptCall{Ctx: ctx, Prompt: prompt, SystemPrompt: systemPrompt, Schema: schema, Opts: opts})
	if p.StructuredErr != nil {
		return nil, p.StructuredErr
	}
	return p.StructuredResponse, nil
}

// StreamCompletion records the call and returns a channel that emits
// StreamChunks. If StreamErr is set, it returns nil, StreamErr.
func (p *Provider) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, PromptCall{Ctx: ctx, Prompt: prompt, SystemPrompt: systemPrompt, Opts: opts})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// EstimateTokens returns TokenEstimate when set, otherwise the shared
// heuristic.
func (p *Provider) EstimateTokens(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenEstimate > 0 {
		return p.TokenEstimate
	}
	return llm.EstimateTokens(text)
}

// GenerateCompletionWithTools records the call and returns the next entry
// of ToolResponses.
func (p *Provider) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	return p.nextToolResponse(ToolCall{Ctx: ctx, Conversation: conv.Clone(), Choice: choice, Opts: opts})
}

// ContinueWithToolResults records the call and returns the next entry of
// ToolResponses.
func (p *Provider) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	return p.nextToolResponse(ToolCall{Ctx: ctx, Conversation: conv.Clone(), Continue: true, Opts: opts})
}

func (p *Provider) nextToolResponse(call ToolCall) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.ToolCalls)
	p.ToolCalls = append(p.ToolCalls, call)
	if p.ToolErr != nil {
		return nil, p.ToolErr
	}
	if len(p.ToolResponses) == 0 {
		return nil, nil
	}
	if idx >= len(p.ToolResponses) {
		idx = len(p.ToolResponses) - 1
	}
	return p.ToolResponses[idx], nil
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompletionCalls = nil
	p.StructuredCalls = nil
	p.StreamCalls = nil
	p.ToolCalls = nil
}

// Ensure Provider implements the llm interfaces at compile time.
var (
	_ llm.Provider   = (*Provider)(nil)
	_ llm.ToolCaller = (*Provider)(nil)
)
