// Package local provides an LLM provider for self-hosted servers that speak
// the OpenAI chat-completions protocol, such as llama.cpp, vLLM, LM Studio
// or Ollama's compatibility endpoint.
//
// There is no catalog of local models to match against, so capabilities come
// entirely from the caller-supplied [ModelConfig].
package local

import (
	"fmt"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
	"github.com/MrWong99/omnillm/pkg/provider/llm/openai"
)

// ModelConfig describes a locally served model.
type ModelConfig struct {
	// Name is the model identifier sent to the server.
	Name string `yaml:"name"`

	// ContextWindow is the model's context size in tokens. Required.
	ContextWindow int `yaml:"context_window"`

	// MaxOutputTokens defaults to half of ContextWindow when zero.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	SupportsVision           bool `yaml:"supports_vision"`
	SupportsToolCalling      bool `yaml:"supports_tool_calling"`
	SupportsStructuredOutput bool `yaml:"supports_structured_output"`
}

// Capabilities derives the provider capabilities. Pricing is always nil:
// local execution has no per-token cost.
func (m ModelConfig) Capabilities() llm.Capabilities {
	maxOut := m.MaxOutputTokens
	if maxOut <= 0 {
		maxOut = max(m.ContextWindow/2, 1)
	}
	return llm.Capabilities{
		SupportsStructuredOutput: m.SupportsStructuredOutput,
		SupportsStreaming:        true,
		IsLocal:                  true,
		SupportsVision:           m.SupportsVision,
		SupportsToolCalling:      m.SupportsToolCalling,
		SupportsSystemPrompts:    true,
		MaxContextTokens:         m.ContextWindow,
		MaxOutputTokens:          maxOut,
	}
}

// New constructs a provider for model served at baseURL. apiKey may be
// empty.
func New(baseURL, apiKey string, model ModelConfig, opts ...openai.Option) (*openai.Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("local: baseURL must not be empty")
	}
	if model.ContextWindow <= 0 {
		return nil, fmt.Errorf("local: model %q: context window must be positive", model.Name)
	}
	caps := model.Capabilities()
	base := []openai.Option{
		openai.WithBaseURL(baseURL),
		openai.WithIdentity("local", "Local ("+model.Name+")"),
		openai.WithAPIKeyOptional(),
		openai.WithCapabilities(func(string) llm.Capabilities { return caps }),
	}
	return openai.New(apiKey, model.Name, append(base, opts...)...)
}
