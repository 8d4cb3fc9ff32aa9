package config

import (
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
	"github.com/MrWong99/omnillm/pkg/provider/llm/anthropic"
	"github.com/MrWong99/omnillm/pkg/provider/llm/anyllm"
	"github.com/MrWong99/omnillm/pkg/provider/llm/local"
	"github.com/MrWong99/omnillm/pkg/provider/llm/openai"
	"github.com/MrWong99/omnillm/pkg/provider/llm/xai"
)

// DefaultRegistry returns a [Registry] with factories for every built-in
// [ProviderType].
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins registers the built-in provider factories on r.
func RegisterBuiltins(r *Registry) {
	r.Register(TypeAnthropic, newAnthropic)
	r.Register(TypeOpenAI, newOpenAI)
	r.Register(TypeXAI, newXAI)
	r.Register(TypeLocal, newLocal)
	r.Register(TypeAnyLLM, newAnyLLM)
}

func newAnthropic(e ProviderEntry) (llm.Provider, error) {
	var opts []anthropic.Option
	if e.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(e.BaseURL))
	}
	if v := e.OptionString("anthropic_version"); v != "" {
		opts = append(opts, anthropic.WithVersion(v))
	}
	if e.Timeout > 0 {
		opts = append(opts, anthropic.WithTimeout(e.Timeout))
	}
	return anthropic.New(e.APIKey, e.Model, opts...)
}

func openAIOptions(e ProviderEntry) []openai.Option {
	var opts []openai.Option
	if e.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.BaseURL))
	}
	if e.Organization != "" {
		opts = append(opts, openai.WithOrganization(e.Organization))
	}
	if e.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(e.Timeout))
	}
	return opts
}

func newOpenAI(e ProviderEntry) (llm.Provider, error) {
	return openai.New(e.APIKey, e.Model, openAIOptions(e)...)
}

func newXAI(e ProviderEntry) (llm.Provider, error) {
	return xai.New(e.APIKey, e.Model, openAIOptions(e)...)
}

func newLocal(e ProviderEntry) (llm.Provider, error) {
	var model local.ModelConfig
	if e.Local != nil {
		model = *e.Local
	}
	var opts []openai.Option
	if e.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(e.Timeout))
	}
	return local.New(e.BaseURL, e.APIKey, model, opts...)
}

func newAnyLLM(e ProviderEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return anyllm.New(e.Backend, e.Model, opts...)
}
