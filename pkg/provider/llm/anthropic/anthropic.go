// Package anthropic provides an LLM provider backed by the Anthropic Messages
// API.
//
// The provider talks raw HTTP so every request field maps one to one onto the
// vendor wire format. Capabilities are derived from the model identifier
// without any network call.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

const (
	// DefaultBaseURL is the public Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultVersion is sent in the anthropic-version header.
	DefaultVersion = "2023-06-01"

	// defaultMaxTokens is used when the caller leaves MaxTokens unset. The
	// vendor rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

// Provider implements llm.Provider and llm.ToolCaller using the Anthropic
// Messages API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	version string
	client  *http.Client
	timeout time.Duration
	caps    llm.Capabilities
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	version string
	client  *http.Client
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithVersion overrides the anthropic-version header.
func WithVersion(v string) Option {
	return func(c *config) {
		c.version = v
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// WithTimeout sets a per-request HTTP timeout. It does not apply to
// streaming reads, which are bounded by the caller's context instead.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Anthropic Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{
		baseURL: DefaultBaseURL,
		version: DefaultVersion,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(cfg.baseURL, "/"),
		version: cfg.version,
		client:  cfg.client,
		caps:    modelCapabilities(model),
		timeout: cfg.timeout,
	}, nil
}

// ID implements llm.Provider.
func (p *Provider) ID() string { return "anthropic" }

// DisplayName implements llm.Provider.
func (p *Provider) DisplayName() string { return "Anthropic" }

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities { return p.caps }

// EstimateTokens implements llm.Provider.
func (p *Provider) EstimateTokens(text string) int { return llm.EstimateTokens(text) }

// GenerateCompletion implements llm.Provider.
func (p *Provider) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	req := p.buildRequest(systemPrompt, []message{textMessage("user", prompt)}, opts)
	return p.send(ctx, req, opts)
}

// GenerateStructuredOutput implements llm.Provider. The vendor has no JSON
// mode, so the system prompt instructs the model to answer with JSON only.
func (p *Provider) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	resp, err := p.GenerateCompletion(ctx, prompt, jsonInstruction(systemPrompt, schema), opts)
	if err != nil {
		return nil, err
	}
	return llm.ValidateJSON(strings.TrimSpace(resp.Text))
}

func jsonInstruction(systemPrompt string, schema json.RawMessage) string {
	var sb strings.Builder
	if systemPrompt != "" {
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with a single valid JSON document and nothing else. Do not wrap it in markdown.")
	if len(schema) > 0 {
		sb.WriteString(" The document must conform to this JSON Schema:\n")
		sb.Write(schema)
	}
	return sb.String()
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
	req := p.buildRequest(conv.SystemPrompt(), msgs, opts)
	applyToolChoice(&req, conv, choice)
	return p.send(ctx, req, opts)
}

// ContinueWithToolResults implements llm.ToolCaller. The full conversation
// is resubmitted with the same tools and automatic tool selection.
func (p *Provider) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if err := conv.CheckContinuable(); err != nil {
		return nil, err
	}
	return p.GenerateCompletionWithTools(ctx, conv, llm.ChooseAuto(), opts)
}

// ── Transport ───────────────────────────────────────────────────────────────

func (p *Provider) buildRequest(system string, msgs []message, opts llm.GenerationOptions) messagesRequest {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return messagesRequest{
		Model:         opts.ModelOr(p.model),
		MaxTokens:     maxTokens,
		System:        system,
		Messages:      msgs,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
	}
}

// encode marshals req and merges CustomParameters into the top-level object.
func encode(req messagesRequest, custom map[string]any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if len(custom) == 0 {
		return body, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	extra := make(map[string]json.RawMessage, len(custom))
	for k, v := range custom {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("custom parameter %q: %w", k, err)
		}
		extra[k] = raw
	}
	maps.Copy(merged, extra)
	return json.Marshal(merged)
}

// do posts req and returns the response on a 2xx status. Any other status is
// translated into an *llm.Error.
func (p *Provider) do(ctx context.Context, req messagesRequest, opts llm.GenerationOptions) (*http.Response, error) {
	body, err := encode(req, opts.CustomParameters)
	if err != nil {
		return nil, llm.InvalidRequestError(fmt.Sprintf("encode request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, llm.InvalidRequestError(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, llm.NetworkError(ctxErr)
		}
		return nil, llm.NetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw := llm.ReadErrorBody(resp.Body)
		return nil, translateError(llm.ErrorFromResponse(resp.StatusCode, resp.Header, raw))
	}
	return resp, nil
}

func (p *Provider) send(ctx context.Context, req messagesRequest, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	resp, err := p.do(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NetworkError(err)
	}
	var out messagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, llm.DecodingError("decode messages response", string(raw), err)
	}
	return convertResponse(&out), nil
}

// Ensure Provider implements the llm interfaces at compile time.
var (
	_ llm.Provider   = (*Provider)(nil)
	_ llm.ToolCaller = (*Provider)(nil)
)
