package gateway

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/omnillm/internal/toolhost"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// Options mirrors [llm.GenerationOptions] on the wire.
type Options struct {
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

func (o Options) generation() llm.GenerationOptions {
	return llm.GenerationOptions{
		Model:            o.Model,
		Temperature:      o.Temperature,
		MaxTokens:        o.MaxTokens,
		TopP:             o.TopP,
		FrequencyPenalty: o.FrequencyPenalty,
		PresencePenalty:  o.PresencePenalty,
		StopSequences:    o.Stop,
	}
}

// CompletionRequest is the body of /v1/completions and the first frame of
// /v1/stream. An empty Provider selects the default provider.
type CompletionRequest struct {
	Provider string  `json:"provider,omitempty"`
	Prompt   string  `json:"prompt"`
	System   string  `json:"system,omitempty"`
	Options  Options `json:"options,omitzero"`
}

// StructuredRequest is the body of /v1/structured.
type StructuredRequest struct {
	CompletionRequest
	Schema json.RawMessage `json:"schema"`
}

// AgentRequest is the body of /v1/agent. Tools restricts the loop to the
// named host tools; empty offers all of them. ToolChoice is auto, none,
// required or a tool name.
type AgentRequest struct {
	CompletionRequest
	Tools      []string `json:"tools,omitempty"`
	ToolChoice string   `json:"tool_choice,omitempty"`
	MaxRounds  int      `json:"max_rounds,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is token accounting for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResponse is returned by /v1/completions.
type CompletionResponse struct {
	Provider     string     `json:"provider"`
	Model        string     `json:"model,omitempty"`
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        Usage      `json:"usage"`
}

func completionFrom(provider string, r *llm.CompletionResponse) CompletionResponse {
	out := CompletionResponse{
		Provider:     provider,
		Model:        r.Model,
		Text:         r.Text,
		FinishReason: r.FinishReason,
		Usage:        Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens},
	}
	for _, c := range r.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return out
}

// StructuredResponse is returned by /v1/structured.
type StructuredResponse struct {
	Provider string          `json:"provider"`
	Output   json.RawMessage `json:"output"`
}

// AgentResponse is returned by /v1/agent. Usage sums every round.
type AgentResponse struct {
	CompletionResponse
	Rounds            int `json:"rounds"`
	ToolCallsExecuted int `json:"tool_calls_executed"`
}

// StreamFrame is one server frame on /v1/stream. The last frame has Done
// set, or Error when the stream failed.
type StreamFrame struct {
	Text         string     `json:"text,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Done         bool       `json:"done,omitempty"`
	Error        *ErrorBody `json:"error,omitempty"`
}

// ProviderView is one entry of /v1/providers.
type ProviderView struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Model         string `json:"model"`
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Default       bool   `json:"default"`
	Streaming     bool   `json:"streaming"`
	ToolCalling   bool   `json:"tool_calling"`
	Structured    bool   `json:"structured_output"`
	Local         bool   `json:"local"`
	ContextTokens int    `json:"context_tokens"`
	OutputTokens  int    `json:"output_tokens"`
	Circuit       string `json:"circuit,omitempty"`
}

// ToolView is one entry of /v1/tools.
type ToolView struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
	Server      string         `json:"server,omitempty"`
	Calls       int            `json:"calls"`
	ErrorRate   float64        `json:"error_rate"`
	P50MS       int64          `json:"p50_ms"`
	P99MS       int64          `json:"p99_ms"`
}

func toolViews(tools []llm.Tool, stats []toolhost.ToolStats) []ToolView {
	byName := make(map[string]toolhost.ToolStats, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	out := make([]ToolView, 0, len(tools))
	for _, t := range tools {
		s := byName[t.Name()]
		out = append(out, ToolView{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
			Server:      s.Server,
			Calls:       s.Calls,
			ErrorRate:   s.ErrorRate,
			P50MS:       s.P50.Milliseconds(),
			P99MS:       s.P99.Milliseconds(),
		})
	}
	return out
}

// UsageRecord is one ledger entry on the wire.
type UsageRecord struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Operation    string    `json:"operation"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Estimated    bool      `json:"estimated,omitempty"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMS    int64     `json:"latency_ms"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary is one provider/model aggregate.
type UsageSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Requests     int64   `json:"requests"`
	Failures     int64   `json:"failures"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageResponse is returned by /v1/usage.
type UsageResponse struct {
	Summary []UsageSummary `json:"summary"`
	Recent  []UsageRecord  `json:"recent"`
}

func usageFrom(sums []usage.Summary, recs []usage.Record) UsageResponse {
	out := UsageResponse{
		Summary: make([]UsageSummary, 0, len(sums)),
		Recent:  make([]UsageRecord, 0, len(recs)),
	}
	for _, s := range sums {
		out.Summary = append(out.Summary, UsageSummary(s))
	}
	for _, r := range recs {
		out.Recent = append(out.Recent, UsageRecord{
			ID:           r.ID,
			RequestID:    r.RequestID,
			Provider:     r.Provider,
			Model:        r.Model,
			Operation:    r.Operation,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			Estimated:    r.Estimated,
			CostUSD:      r.CostUSD,
			LatencyMS:    r.Latency.Milliseconds(),
			ErrorKind:    r.ErrorKind,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out
}
