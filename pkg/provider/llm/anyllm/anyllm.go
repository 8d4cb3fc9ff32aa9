// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// The bridge trades wire-level control for breadth: it cannot force a tool
// choice, so only automatic selection and "none" are supported.
//
// Usage:
//
//	p, err := anyllm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey("..."))
//	p, err := anyllm.NewOllama("llama3.1")
package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	anyllmerrors "github.com/mozilla-ai/any-llm-go/errors"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// Backends lists the backend names accepted by New.
var Backends = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// backend describes how to construct one any-llm-go provider.
type backend struct {
	open  func(...anyllmlib.Option) (anyllmlib.Provider, error)
	local bool
}

var backends = map[string]backend{
	"openai":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) }},
	"anthropic": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) }},
	"gemini":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) }},
	"deepseek":  {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) }},
	"mistral":   {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) }},
	"groq":      {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) }},
	"ollama":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) }, local: true},
	"llamacpp":  {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) }, local: true},
	"llamafile": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) }, local: true},
}

// Provider bridges an any-llm-go backend to [llm.Provider] and
// [llm.ToolCaller].
type Provider struct {
	backend     anyllmlib.Provider
	backendName string
	model       string
	caps        llm.Capabilities
}

// New opens the named backend, one of [Backends], case-insensitively. opts
// are passed to any-llm-go; without an API key option the backend reads its
// own environment variable such as GEMINI_API_KEY.
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(backendName)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backendName, strings.Join(Backends, ", "))
	}
	impl, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s backend: %w", name, err)
	}
	caps := modelCapabilities(model)
	caps.IsLocal = b.local
	return &Provider{backend: impl, backendName: name, model: model, caps: caps}, nil
}

// NewOllama opens a local Ollama backend, by default at
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// ID implements llm.Provider.
func (p *Provider) ID() string { return "anyllm-" + p.backendName }

// DisplayName implements llm.Provider.
func (p *Provider) DisplayName() string { return "any-llm (" + p.backendName + ")" }

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities { return p.caps }

// EstimateTokens implements llm.Provider.
func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

// GenerateCompletion implements llm.Provider.
func (p *Provider) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	params := p.buildParams(promptMessages(prompt, systemPrompt), opts)
	return p.complete(ctx, params)
}

// GenerateStructuredOutput implements llm.Provider. The bridge has no
// portable JSON mode, so it relies on the instruction and strips stray
// markdown fences.
func (p *Provider) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with a single valid JSON document and nothing else.")
	if len(schema) > 0 {
		sb.WriteString(" The document must conform to this JSON Schema:\n")
		sb.Write(schema)
	}
	resp, err := p.GenerateCompletion(ctx, prompt, sb.String(), opts)
	if err != nil {
		return nil, err
	}
	return llm.ValidateJSON(trimFences(resp.Text))
}

func trimFences(s string) string {
	t := strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(t, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "```"))
	}
	return t
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	params := p.buildParams(promptMessages(prompt, systemPrompt), opts)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				continue
			}
			select {
			case ch <- llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil && ctx.Err() == nil {
			select {
			case ch <- llm.Chunk{Err: mapError(ctx, err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// GenerateCompletionWithTools implements llm.ToolCaller. Only automatic
// selection and none are supported: none omits the tools unless the
// conversation already carries tool calls.
func (p *Provider) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if !p.caps.SupportsToolCalling {
		return nil, llm.ToolCallingUnsupportedError(p)
	}
	if err := choice.Validate(); err != nil {
		return nil, err
	}
	choice = choice.Normalized()
	switch choice.Mode {
	case llm.ToolChoiceRequired, llm.ToolChoiceTool:
		return nil, llm.UnsupportedError(fmt.Sprintf("%s cannot force tool choice %s", p.DisplayName(), choice))
	}

	params := p.buildParams(convertConversation(conv), opts)
	// Backends reject tool_use history without the matching definitions, so
	// none keeps the tools and says so when the transcript already used them.
	withTools := choice.Mode == llm.ToolChoiceAuto
	if choice.Mode == llm.ToolChoiceNone && conv.HasToolHistory() {
		withTools = true
		params.ToolChoice = "none"
	}
	if withTools {
		for _, t := range conv.Tools() {
			params.Tools = append(params.Tools, anyllmlib.Tool{
				Type: "function",
				Function: anyllmlib.Function{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Schema(),
				},
			})
		}
	}
	return p.complete(ctx, params)
}

// ContinueWithToolResults implements llm.ToolCaller.
func (p *Provider) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if err := conv.CheckContinuable(); err != nil {
		return nil, err
	}
	return p.GenerateCompletionWithTools(ctx, conv, llm.ChooseAuto(), opts)
}

func (p *Provider) complete(ctx context.Context, params anyllmlib.CompletionParams) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.ProviderError("empty choices in response", "")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Text:         choice.Message.ContentString(),
		Model:        p.model,
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		result.Usage = llm.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// mapError classifies backend failures by the any-llm-go sentinel they
// match. Unclassified failures are provider errors.
func mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return llm.NetworkError(ctxErr)
	}
	var e *llm.Error
	if errors.As(err, &e) {
		return e
	}

	kind := llm.KindProvider
	var code string
	switch {
	case errors.Is(err, anyllmerrors.ErrRateLimit):
		var rl *anyllmerrors.RateLimitError
		var retryAfter time.Duration
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			retryAfter = time.Duration(rl.RetryAfter) * time.Second
		}
		return &llm.Error{Kind: llm.KindRateLimit, Message: err.Error(), RetryAfter: retryAfter, Err: err}
	case errors.Is(err, anyllmerrors.ErrAuthentication), errors.Is(err, anyllmerrors.ErrMissingAPIKey):
		kind = llm.KindAuthentication
	case errors.Is(err, anyllmerrors.ErrContextLength):
		kind = llm.KindContextLength
	case errors.Is(err, anyllmerrors.ErrInvalidRequest):
		kind = llm.KindInvalidRequest
	case errors.Is(err, anyllmerrors.ErrModelNotFound):
		kind, code = llm.KindInvalidRequest, anyllmerrors.CodeModelNotFound
	case errors.Is(err, anyllmerrors.ErrUnsupportedParam), errors.Is(err, anyllmerrors.ErrUnsupportedProvider):
		kind = llm.KindUnsupported
	case errors.Is(err, anyllmerrors.ErrContentFilter):
		code = anyllmerrors.CodeContentFilter
	case errors.Is(err, anyllmerrors.ErrProvider):
		var pe *anyllmerrors.ProviderError
		if errors.As(err, &pe) && pe.StatusCode != 0 {
			code = strconv.Itoa(pe.StatusCode)
		}
	}
	return &llm.Error{Kind: kind, Message: err.Error(), Code: code, Err: err}
}

// buildParams converts messages and options into anyllm CompletionParams.
func (p *Provider) buildParams(msgs []anyllmlib.Message, opts llm.GenerationOptions) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    opts.ModelOr(p.model),
		Messages: msgs,
	}
	if opts.Temperature != nil {
		t := *opts.Temperature
		params.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		mt := opts.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func promptMessages(prompt, systemPrompt string) []anyllmlib.Message {
	var msgs []anyllmlib.Message
	if systemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: systemPrompt})
	}
	return append(msgs, anyllmlib.Message{Role: "user", Content: prompt})
}

// convertConversation converts the unified message log into anyllm messages,
// one tool message per result.
func convertConversation(conv *llm.Conversation) []anyllmlib.Message {
	var msgs []anyllmlib.Message
	if sp := conv.SystemPrompt(); sp != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: sp})
	}
	for _, m := range conv.Messages() {
		switch m.Role {
		case llm.RoleTool:
			for _, r := range m.ToolResults {
				msgs = append(msgs, anyllmlib.Message{Role: "tool", Content: r.Text(), ToolCallID: r.ToolCallID})
			}
		case llm.RoleAssistant:
			msg := anyllmlib.Message{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: anyllmlib.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			msgs = append(msgs, msg)
		default:
			msgs = append(msgs, anyllmlib.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	return msgs
}

// modelCapabilities returns capabilities based on known model names across
// the OpenAI, Anthropic, Gemini and open-weight families. Unknown models
// receive sensible defaults. Pricing is left nil because backends bill
// differently for the same model family.
func modelCapabilities(model string) llm.Capabilities {
	caps := llm.Capabilities{
		SupportsStructuredOutput: true,
		SupportsToolCalling:      true,
		SupportsStreaming:        true,
		SupportsSystemPrompts:    true,
		MaxContextTokens:         128_000,
		MaxOutputTokens:          4_096,
	}
	lower := strings.ToLower(model)
	for _, f := range modelFamilies {
		if !f.matches(lower) {
			continue
		}
		if f.context > 0 {
			caps.MaxContextTokens = f.context
		}
		if f.output > 0 {
			caps.MaxOutputTokens = f.output
		}
		caps.SupportsVision = f.vision
		caps.SupportsToolCalling = !f.noTools
		caps.SupportsSystemPrompts = !f.noSystem
		break
	}
	return caps
}

// modelFamily overrides the defaults for model names starting with (or,
// with anywhere set, containing) one of its patterns. Zero sizes keep the
// default. The first matching entry wins, so longer prefixes come first.
type modelFamily struct {
	patterns []string
	anywhere bool

	context, output   int
	vision            bool
	noTools, noSystem bool
}

func (f modelFamily) matches(model string) bool {
	for _, p := range f.patterns {
		if (f.anywhere && strings.Contains(model, p)) || strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

var modelFamilies = []modelFamily{
	{patterns: []string{"gpt-4o"}, output: 16_384, vision: true},
	{patterns: []string{"gpt-4-turbo"}, vision: true},
	{patterns: []string{"gpt-4"}, context: 8_192},
	{patterns: []string{"gpt-3.5-turbo"}, context: 16_385},
	{patterns: []string{"o1-mini"}, output: 65_536, noTools: true, noSystem: true},
	{patterns: []string{"o3-mini"}, context: 200_000, output: 100_000},
	{patterns: []string{"o1", "o3"}, context: 200_000, output: 100_000, vision: true},

	{patterns: []string{"claude-3-opus"}, anywhere: true, context: 200_000, vision: true},
	{patterns: []string{"claude"}, context: 200_000, output: 8_192, vision: true},

	{patterns: []string{"gemini-1.5-pro"}, anywhere: true, context: 2_097_152, output: 8_192, vision: true},
	{patterns: []string{"gemini-2", "gemini-1.5-flash"}, anywhere: true, context: 1_048_576, output: 8_192, vision: true},
	{patterns: []string{"gemini"}, output: 8_192, vision: true},

	{patterns: []string{"llama3", "llama-3"}, context: 131_072},
	{patterns: []string{"deepseek"}, context: 65_536, output: 8_192},
}

// Ensure Provider implements the llm interfaces at compile time.
var (
	_ llm.Provider   = (*Provider)(nil)
	_ llm.ToolCaller = (*Provider)(nil)
)
