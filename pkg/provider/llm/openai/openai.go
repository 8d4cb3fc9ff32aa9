// Package openai provides an LLM provider backed by the OpenAI Chat
// Completions API.
//
// The same wire protocol is spoken by xAI and by self-hosted
// OpenAI-compatible servers; the xai and local packages configure this
// provider through [WithIdentity], [WithCapabilities] and
// [WithStructuredCleanup] instead of reimplementing it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// DefaultBaseURL is the public OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1/"

// CapabilitiesFunc derives capabilities from a model identifier.
type CapabilitiesFunc func(model string) llm.Capabilities

// Provider implements llm.Provider and llm.ToolCaller using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	id      string
	name    string
	caps    llm.Capabilities
	cleanup func(string) string
	timeout time.Duration
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	httpClient   *http.Client
	id           string
	name         string
	capsFunc     CapabilitiesFunc
	cleanup      func(string) string
	keyOptional  bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request timeout for non-streaming calls. Streams
// are bounded by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithIdentity overrides the ID and DisplayName reported by the provider.
func WithIdentity(id, displayName string) Option {
	return func(c *config) {
		c.id = id
		c.name = displayName
	}
}

// WithCapabilities replaces the built-in OpenAI model table.
func WithCapabilities(fn CapabilitiesFunc) Option {
	return func(c *config) {
		c.capsFunc = fn
	}
}

// WithStructuredCleanup installs a hook that rewrites structured-output text
// before it is validated as JSON.
func WithStructuredCleanup(fn func(string) string) Option {
	return func(c *config) {
		c.cleanup = fn
	}
}

// WithAPIKeyOptional allows an empty API key. Self-hosted servers usually
// accept any or no key.
func WithAPIKeyOptional() Option {
	return func(c *config) {
		c.keyOptional = true
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	cfg := &config{
		baseURL:  DefaultBaseURL,
		id:       "openai",
		name:     "OpenAI",
		capsFunc: modelCapabilities,
	}
	for _, o := range opts {
		o(cfg)
	}

	if apiKey == "" && !cfg.keyOptional {
		return nil, fmt.Errorf("%s: apiKey must not be empty", cfg.id)
	}
	if model == "" {
		return nil, fmt.Errorf("%s: model must not be empty", cfg.id)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	// The key and base URL are always set explicitly so the SDK's
	// environment defaults never leak into a non-OpenAI endpoint.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		id:      cfg.id,
		name:    cfg.name,
		caps:    cfg.capsFunc(model),
		cleanup: cfg.cleanup,
		timeout: cfg.timeout,
	}, nil
}

// ID implements llm.Provider.
func (p *Provider) ID() string { return p.id }

// DisplayName implements llm.Provider.
func (p *Provider) DisplayName() string { return p.name }

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities { return p.caps }

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.model }

// EstimateTokens implements llm.Provider.
func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

// GenerateCompletion implements llm.Provider.
func (p *Provider) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	params, reqOpts := p.buildParams(p.promptMessages(prompt, systemPrompt), opts)
	return p.complete(ctx, params, reqOpts)
}

// GenerateStructuredOutput implements llm.Provider. Models with native JSON
// mode get response_format json_object; the rest rely on the instruction
// alone.
func (p *Provider) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	params, reqOpts := p.buildParams(p.promptMessages(prompt, jsonInstruction(systemPrompt, schema)), opts)
	if p.caps.SupportsStructuredOutput {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := p.complete(ctx, params, reqOpts)
	if err != nil {
		return nil, err
	}
	text := resp.Text
	if p.cleanup != nil {
		text = p.cleanup(text)
	}
	return llm.ValidateJSON(strings.TrimSpace(text))
}

// jsonInstruction extends the system prompt. JSON mode requires the word
// "JSON" to appear in the messages.
func jsonInstruction(systemPrompt string, schema json.RawMessage) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with a single valid JSON object and nothing else.")
	if len(schema) > 0 {
		sb.WriteString(" The object must conform to this JSON Schema:\n")
		sb.Write(schema)
	}
	return sb.String()
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	params, reqOpts := p.buildParams(p.promptMessages(prompt, systemPrompt), opts)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, mapError(ctx, err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		emit := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content == "" && choice.FinishReason == "" {
				continue
			}
			if !emit(llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}) {
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			emit(llm.Chunk{Err: mapError(ctx, err)})
		}
	}()

	return ch, nil
}

// GenerateCompletionWithTools implements llm.ToolCaller.
func (p *Provider) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if !p.caps.SupportsToolCalling {
		return nil, llm.ToolCallingUnsupportedError(p)
	}
	if err := choice.Validate(); err != nil {
		return nil, err
	}
	msgs, err := convertConversation(conv)
	if err != nil {
		return nil, err
	}
	params, reqOpts := p.buildParams(msgs, opts)
	if tools := conv.Tools(); len(tools) > 0 {
		params.Tools = convertTools(tools)
		params.ToolChoice = convertToolChoice(choice)
	}
	return p.complete(ctx, params, reqOpts)
}

// ContinueWithToolResults implements llm.ToolCaller.
func (p *Provider) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if err := conv.CheckContinuable(); err != nil {
		return nil, err
	}
	return p.GenerateCompletionWithTools(ctx, conv, llm.ChooseAuto(), opts)
}

// ── Request building ────────────────────────────────────────────────────────

// promptMessages builds an optional system message plus one user message.
// Models without a system role get the system prompt folded into the user
// turn.
func (p *Provider) promptMessages(prompt, systemPrompt string) []oai.ChatCompletionMessageParamUnion {
	if systemPrompt == "" {
		return []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)}
	}
	if !p.caps.SupportsSystemPrompts {
		return []oai.ChatCompletionMessageParamUnion{oai.UserMessage(systemPrompt + "\n\n" + prompt)}
	}
	return []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(systemPrompt),
		oai.UserMessage(prompt),
	}
}

// buildParams converts generation options into SDK params. Stop sequences
// and custom parameters travel as JSON overrides on the request body.
func (p *Provider) buildParams(msgs []oai.ChatCompletionMessageParamUnion, opts llm.GenerationOptions) (oai.ChatCompletionNewParams, []option.RequestOption) {
	model := opts.ModelOr(p.model)
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = param.NewOpt(*opts.TopP)
	}
	if opts.FrequencyPenalty != nil {
		params.FrequencyPenalty = param.NewOpt(*opts.FrequencyPenalty)
	}
	if opts.PresencePenalty != nil {
		params.PresencePenalty = param.NewOpt(*opts.PresencePenalty)
	}
	if opts.MaxTokens > 0 {
		if usesCompletionTokens(model) {
			params.MaxCompletionTokens = param.NewOpt(int64(opts.MaxTokens))
		} else {
			params.MaxTokens = param.NewOpt(int64(opts.MaxTokens))
		}
	}

	var reqOpts []option.RequestOption
	if len(opts.StopSequences) > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("stop", opts.StopSequences))
	}
	keys := make([]string, 0, len(opts.CustomParameters))
	for k := range opts.CustomParameters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		reqOpts = append(reqOpts, option.WithJSONSet(k, opts.CustomParameters[k]))
	}
	return params, reqOpts
}

// convertConversation maps the unified message log onto chat messages. Each
// tool result becomes its own role=tool message tagged with the call ID.
func convertConversation(conv *llm.Conversation) ([]oai.ChatCompletionMessageParamUnion, error) {
	var out []oai.ChatCompletionMessageParamUnion
	if sp := conv.SystemPrompt(); sp != "" {
		out = append(out, oai.SystemMessage(sp))
	}
	for _, m := range conv.Messages() {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))

		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))

		case llm.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = oai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: oai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})

		case llm.RoleTool:
			for _, r := range m.ToolResults {
				out = append(out, oai.ToolMessage(r.Text(), r.ToolCallID))
			}

		default:
			return nil, llm.InvalidRequestError(fmt.Sprintf("unsupported message role %q", m.Role))
		}
	}
	return out, nil
}

func convertTools(tools []llm.Tool) []oai.ChatCompletionToolParam {
	out := make([]oai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: param.NewOpt(t.Description()),
				Parameters:  shared.FunctionParameters(t.Schema()),
			},
		}
	}
	return out
}

func convertToolChoice(choice llm.ToolChoice) oai.ChatCompletionToolChoiceOptionUnionParam {
	choice = choice.Normalized()
	if choice.Mode == llm.ToolChoiceTool {
		return oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}
	}
	return oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt(string(choice.Mode))}
}

// ── Response handling ───────────────────────────────────────────────────────

func (p *Provider) complete(ctx context.Context, params oai.ChatCompletionNewParams, reqOpts []option.RequestOption) (*llm.CompletionResponse, error) {
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(p.timeout))
	}
	resp, err := p.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return convertCompletion(resp)
}

func convertCompletion(resp *oai.ChatCompletion) (*llm.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, llm.ProviderError("empty choices in response", "")
	}
	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		Metadata: map[string]string{"id": resp.ID},
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			// Some compatible servers omit call IDs; results must still be
			// matched to their call on the next turn.
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

var contextLengthRE = regexp.MustCompile(`maximum context length is (\d+) tokens.*?(?:resulted in|requested) (\d+) tokens`)

// mapError translates SDK failures into the llm error taxonomy.
func mapError(ctx context.Context, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		e := llm.ErrorFromResponse(apiErr.StatusCode, header, []byte(apiErr.RawJSON()))
		if e.Kind == llm.KindInvalidRequest {
			if m := contextLengthRE.FindStringSubmatch(e.Message); m != nil {
				maximum, _ := strconv.Atoi(m[1])
				requested, _ := strconv.Atoi(m[2])
				return llm.ContextLengthError(requested, maximum)
			}
		}
		return e
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return llm.NetworkError(ctxErr)
	}
	var e *llm.Error
	if errors.As(err, &e) {
		return e
	}
	return llm.NetworkError(err)
}

// Ensure Provider implements the llm interfaces at compile time.
var (
	_ llm.Provider   = (*Provider)(nil)
	_ llm.ToolCaller = (*Provider)(nil)
)
