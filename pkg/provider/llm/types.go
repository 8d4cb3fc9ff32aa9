package llm

import "unicode/utf8"

// GenerationOptions carries the caller-supplied tunables for one request.
// Every field is optional; pointer fields distinguish "unset" from an
// explicit zero. Treat a value as immutable once it has been handed to a
// provider.
type GenerationOptions struct {
	// Model overrides the provider's configured model for this request.
	Model string

	// Temperature controls output randomness, typically in [0.0, 2.0]. The
	// exact semantics are vendor-defined.
	Temperature *float64

	// MaxTokens caps the number of generated tokens. Zero means the provider
	// default.
	MaxTokens int

	// TopP enables nucleus sampling.
	TopP *float64

	// FrequencyPenalty and PresencePenalty are forwarded to vendors that
	// support them and ignored by the rest.
	FrequencyPenalty *float64
	PresencePenalty  *float64

	// StopSequences are tried in order; generation stops at the first match.
	StopSequences []string

	// CustomParameters is a vendor escape hatch. Keys are merged into the
	// request body as-is.
	CustomParameters map[string]any
}

// DefaultOptions returns the default configuration: temperature 0.7 and a
// 2048 token output ceiling.
func DefaultOptions() GenerationOptions {
	return GenerationOptions{
		Temperature: Float(0.7),
		MaxTokens:   2048,
	}
}

// Float returns a pointer to v. It exists so option literals stay terse.
func Float(v float64) *float64 { return &v }

// ModelOr returns o.Model, or fallback when no override is set.
func (o GenerationOptions) ModelOr(fallback string) string {
	if o.Model != "" {
		return o.Model
	}
	return fallback
}

// Capabilities is an immutable snapshot of what a configured provider
// instance supports.
type Capabilities struct {
	// SupportsStructuredOutput reports whether GenerateStructuredOutput can be
	// expected to return JSON.
	SupportsStructuredOutput bool

	// SupportsStreaming reports whether StreamCompletion is available.
	SupportsStreaming bool

	// IsLocal is true for on-device or self-hosted execution.
	IsLocal bool

	// SupportsVision indicates the model accepts image inputs.
	SupportsVision bool

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsSystemPrompts indicates a dedicated system prompt is honoured.
	SupportsSystemPrompts bool

	// MaxContextTokens is the maximum token count for input plus output.
	MaxContextTokens int

	// MaxOutputTokens is the most tokens the model generates in one call.
	MaxOutputTokens int

	// Pricing is nil when execution is free or the cost is unknown.
	Pricing *Pricing
}

// Validate reports whether c describes a usable provider.
func (c Capabilities) Validate() error {
	if c.MaxContextTokens <= 0 {
		return InvalidRequestError("capabilities: max context tokens must be positive")
	}
	if c.MaxOutputTokens <= 0 {
		return InvalidRequestError("capabilities: max output tokens must be positive")
	}
	return nil
}

// Pricing lists the per-million-token list prices in USD.
type Pricing struct {
	InputCostPer1M  float64
	OutputCostPer1M float64
}

// Cost is the price of a single request broken down by direction.
type Cost struct {
	Input  float64
	Output float64
}

// Total returns Input + Output.
func (c Cost) Total() float64 { return c.Input + c.Output }

// Cost prices u against p.
func (p Pricing) Cost(u TokenUsage) Cost {
	return Cost{
		Input:  float64(u.InputTokens) / 1_000_000 * p.InputCostPer1M,
		Output: float64(u.OutputTokens) / 1_000_000 * p.OutputCostPer1M,
	}
}

// TokenUsage holds token accounting for one request/response pair.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns InputTokens + OutputTokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// CompletionResponse is the result of one generation call.
type CompletionResponse struct {
	// Text is the assistant's reply. It is empty when the model responded
	// only with tool calls.
	Text string

	// ToolCalls lists the tool invocations requested by the model, in the
	// order the vendor returned them.
	ToolCalls []ToolCall

	// Model echoes the identifier that served the request.
	Model string

	// Usage contains token accounting for this call.
	Usage TokenUsage

	// FinishReason is the vendor's stop reason, if it reported one.
	FinishReason string

	// Metadata carries vendor-specific extras such as the response id.
	Metadata map[string]string
}

// RequiresToolExecution reports whether the model asked for at least one
// tool call.
func (r *CompletionResponse) RequiresToolExecution() bool {
	return len(r.ToolCalls) > 0
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk when the vendor reports one.
	FinishReason string

	// Err terminates a failed stream. No further chunks follow it.
	Err error
}

// EstimateTokens approximates the token count of text at four characters per
// token, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
