// Package llm defines the unified Provider abstraction over text-generation
// backends.
//
// A provider wraps one configured vendor model (Anthropic Claude, OpenAI GPT,
// xAI Grok, or a self-hosted OpenAI-compatible server). It exposes completion,
// structured output, streaming and tool-augmented conversation without leaking
// the vendor's wire format to the caller.
//
// Implementors must be safe for concurrent use. They hold no per-call state:
// everything a call needs travels in its arguments. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
//
// Tool calling is optional. A provider opts in by implementing [ToolCaller];
// callers go through [GenerateWithTools] and [ContinueWithToolResults], which
// supply the default "unsupported" behaviour for providers that do not.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider is the abstraction over any LLM backend.
//
// Every method that performs I/O takes a context and must return promptly when
// it is cancelled. Errors returned across this boundary are *[Error] values
// carrying a [Kind], so callers can switch on the taxonomy instead of parsing
// message text.
type Provider interface {
	// ID is a short, stable identifier such as "anthropic" or "openai".
	ID() string

	// DisplayName is a human-readable provider name, e.g. "OpenAI".
	DisplayName() string

	// Capabilities describes the configured model. It is a pure function of the
	// provider's configuration and never performs network I/O.
	Capabilities() Capabilities

	// GenerateCompletion sends a single prompt (plus an optional system prompt)
	// and waits for the full response. No tools are offered.
	GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts GenerationOptions) (*CompletionResponse, error)

	// GenerateStructuredOutput asks the model for a JSON document and returns it
	// after any vendor-specific cleanup. schema is an optional JSON Schema that
	// describes the expected document; providers without a native schema mode
	// use it as a prompt hint. A response that is not valid JSON fails with
	// [KindDecoding] and carries the raw vendor text.
	//
	// Most callers want the typed helper [GenerateStructured].
	GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts GenerationOptions) (json.RawMessage, error)

	// StreamCompletion opens a vendor stream and emits text fragments in the
	// order the vendor sends them. The channel is closed when the vendor
	// signals completion or when ctx is cancelled; cancelling also closes the
	// underlying connection. A failure after the stream opened is delivered as
	// a final Chunk with Err set.
	//
	// The returned channel is never nil when error is nil. A stream is not
	// restartable; call StreamCompletion again for a fresh one.
	StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts GenerationOptions) (<-chan Chunk, error)

	// EstimateTokens approximates the token count of text. It is a heuristic
	// for budgeting, not for billing.
	EstimateTokens(text string) int
}

// ToolCaller is implemented by providers that can run a tool-augmented
// conversation.
//
// Implementations still check Capabilities().SupportsToolCalling themselves,
// because a single provider type may serve models with and without tool
// support.
type ToolCaller interface {
	// GenerateCompletionWithTools submits conv (messages, tools and system
	// prompt) with the given tool selection policy. The response either carries
	// text, tool calls, or both.
	GenerateCompletionWithTools(ctx context.Context, conv *Conversation, choice ToolChoice, opts GenerationOptions) (*CompletionResponse, error)

	// ContinueWithToolResults re-submits conv after the caller appended tool
	// results. The model answers with further tool calls or a final text.
	ContinueWithToolResults(ctx context.Context, conv *Conversation, opts GenerationOptions) (*CompletionResponse, error)
}

// GenerateWithTools runs a tool-augmented completion against p.
//
// When p does not implement [ToolCaller] the call fails with
// [KindUnsupported]. The message differs depending on whether the configured
// model lacks tool calling altogether or the provider simply has not
// implemented it yet.
func GenerateWithTools(ctx context.Context, p Provider, conv *Conversation, choice ToolChoice, opts GenerationOptions) (*CompletionResponse, error) {
	if conv == nil {
		return nil, InvalidRequestError("conversation must not be nil")
	}
	if err := choice.Validate(); err != nil {
		return nil, err
	}
	tc, ok := p.(ToolCaller)
	if !ok {
		return nil, unimplementedToolsError(p)
	}
	return tc.GenerateCompletionWithTools(ctx, conv, choice, opts)
}

// ContinueWithToolResults re-submits conv to p after tool results were
// appended. It rejects conversations that have nothing to continue (see
// [Conversation.CheckContinuable]) before contacting the provider.
func ContinueWithToolResults(ctx context.Context, p Provider, conv *Conversation, opts GenerationOptions) (*CompletionResponse, error) {
	if conv == nil {
		return nil, InvalidRequestError("conversation must not be nil")
	}
	tc, ok := p.(ToolCaller)
	if !ok {
		return nil, unimplementedToolsError(p)
	}
	if err := conv.CheckContinuable(); err != nil {
		return nil, err
	}
	return tc.ContinueWithToolResults(ctx, conv, opts)
}

// ToolCallingUnsupportedError is returned by a [ToolCaller] whose configured
// model has no tool-calling capability.
func ToolCallingUnsupportedError(p Provider) *Error {
	return UnsupportedError(fmt.Sprintf("%s does not support tool calling", p.DisplayName()))
}

func unimplementedToolsError(p Provider) *Error {
	if !p.Capabilities().SupportsToolCalling {
		return ToolCallingUnsupportedError(p)
	}
	return UnsupportedError(fmt.Sprintf("tool calling is not yet implemented for %s", p.DisplayName()))
}

// CollectStream drains ch and returns the concatenated text. It stops at the
// first Chunk carrying an error.
func CollectStream(ch <-chan Chunk) (string, error) {
	var b []byte
	for c := range ch {
		if c.Err != nil {
			// Drain so the producer can exit.
			for range ch {
			}
			return string(b), c.Err
		}
		b = append(b, c.Text...)
	}
	return string(b), nil
}
