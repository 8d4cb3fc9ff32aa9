// Package xai provides an LLM provider for xAI's Grok models.
//
// xAI speaks the OpenAI chat-completions wire format, so the provider is the
// openai.Provider pointed at the xAI endpoint with its own model table and a
// structured-output cleanup step: Grok wraps JSON-mode answers in markdown
// fences often enough that the fences must be stripped before decoding.
package xai

import (
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
	"github.com/MrWong99/omnillm/pkg/provider/llm/openai"
)

// DefaultBaseURL is the public xAI API endpoint.
const DefaultBaseURL = "https://api.x.ai/v1/"

// New constructs an xAI provider for model. opts are applied after the xAI
// defaults, so WithBaseURL can still redirect the provider.
func New(apiKey, model string, opts ...openai.Option) (*openai.Provider, error) {
	base := []openai.Option{
		openai.WithBaseURL(DefaultBaseURL),
		openai.WithIdentity("xai", "xAI"),
		openai.WithCapabilities(modelCapabilities),
		openai.WithStructuredCleanup(StripCodeFences),
	}
	return openai.New(apiKey, model, append(base, opts...)...)
}

// StripCodeFences removes a leading ``` fence (optionally tagged json) and
// a trailing ``` fence. Text that does not start with a fence is returned
// unchanged.
func StripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(t, "```")
	if !ok {
		return s
	}
	if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
		rest = rest[4:]
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}

type modelSpec struct {
	prefix    string
	context   int
	maxOutput int
	input     float64
	output    float64
}

// models is matched by prefix in order, so more specific ids come first.
var models = []modelSpec{
	{"grok-4-1-fast", 2_000_000, 30_000, 0.2, 0.5},
	{"grok-4-fast", 2_000_000, 30_000, 0.2, 0.5},
	{"grok-code-fast", 256_000, 10_000, 0.2, 1.5},
	{"grok-4", 256_000, 64_000, 3, 15},
	{"grok-3-mini", 131_072, 16_384, 0.3, 0.5},
	{"grok-3", 131_072, 16_384, 3, 15},
	{"grok-2", 131_072, 16_384, 2, 10},
}

// modelCapabilities returns capabilities for known Grok models. Vision input
// is not offered through this provider.
func modelCapabilities(model string) llm.Capabilities {
	caps := llm.Capabilities{
		SupportsStructuredOutput: true,
		SupportsStreaming:        true,
		SupportsToolCalling:      true,
		SupportsSystemPrompts:    true,
		MaxContextTokens:         131_072,
		MaxOutputTokens:          16_384,
	}
	lower := strings.ToLower(model)
	for _, m := range models {
		if strings.HasPrefix(lower, m.prefix) {
			caps.MaxContextTokens = m.context
			caps.MaxOutputTokens = m.maxOutput
			caps.Pricing = &llm.Pricing{InputCostPer1M: m.input, OutputCostPer1M: m.output}
			break
		}
	}
	return caps
}
