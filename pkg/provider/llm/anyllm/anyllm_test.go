package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	anyllmerrors "github.com/mozilla-ai/any-llm-go/errors"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// ── convertConversation ──────────────────────────────────────────────────────

func TestConvertConversation(t *testing.T) {
	conv := llm.NewConversation("Weather?", llm.WithSystemPrompt("Be terse."))
	conv.AddAssistantResponse("", []llm.ToolCall{
		{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Berlin"}`},
		{ID: "call_2", Name: "get_weather", Arguments: `{"city":"Rome"}`},
	})
	conv.AddToolResults([]llm.ToolResult{llm.Success("call_1", "sunny"), llm.Success("call_2", "rain")})

	got := convertConversation(conv)
	if len(got) != 5 {
		t.Fatalf("expected 5 messages (system, user, assistant, 2x tool), got %d", len(got))
	}
	if got[0].Role != anyllmlib.RoleSystem || got[0].ContentString() != "Be terse." {
		t.Errorf("system message = %+v", got[0])
	}
	if got[1].Role != "user" || got[1].ContentString() != "Weather?" {
		t.Errorf("user message = %+v", got[1])
	}
	asst := got[2]
	if asst.Role != "assistant" || len(asst.ToolCalls) != 2 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if asst.ToolCalls[0].Type != "function" || asst.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("tool call = %+v", asst.ToolCalls[0])
	}
	for i, id := range []string{"call_1", "call_2"} {
		m := got[3+i]
		if m.Role != "tool" || m.ToolCallID != id {
			t.Errorf("tool message %d = %+v", i, m)
		}
	}
}

func TestPromptMessages(t *testing.T) {
	if got := promptMessages("hi", ""); len(got) != 1 || got[0].Role != "user" {
		t.Errorf("without system = %+v", got)
	}
	if got := promptMessages("hi", "sys"); len(got) != 2 || got[0].Role != anyllmlib.RoleSystem {
		t.Errorf("with system = %+v", got)
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	params := p.buildParams(nil, llm.GenerationOptions{Temperature: llm.Float(0), MaxTokens: 64})
	if params.Model != "gpt-4o" {
		t.Errorf("Model = %q", params.Model)
	}
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Error("explicit zero temperature must be forwarded")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
	if p.buildParams(nil, llm.GenerationOptions{Model: "gpt-4o-mini"}).Model != "gpt-4o-mini" {
		t.Error("model override ignored")
	}
}

// ── modelCapabilities ────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model   string
		context int
		output  int
		vision  bool
		tools   bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"GPT-4O", 128_000, 16_384, true, true},
		{"gpt-4", 8_192, 4_096, false, true},
		{"o1-mini", 128_000, 65_536, false, false},
		{"o3-mini", 200_000, 100_000, false, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true, true},
		{"llama3.1", 131_072, 4_096, false, true},
		{"totally-unknown", 128_000, 4_096, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			c := modelCapabilities(tt.model)
			if c.MaxContextTokens != tt.context || c.MaxOutputTokens != tt.output {
				t.Errorf("context/output = %d/%d, want %d/%d", c.MaxContextTokens, c.MaxOutputTokens, tt.context, tt.output)
			}
			if c.SupportsVision != tt.vision {
				t.Errorf("SupportsVision = %v", c.SupportsVision)
			}
			if c.SupportsToolCalling != tt.tools {
				t.Errorf("SupportsToolCalling = %v", c.SupportsToolCalling)
			}
			if c.Pricing != nil {
				t.Error("bridge pricing must be nil")
			}
		})
	}
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty backend name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil || !strings.Contains(err.Error(), "unsupported backend") {
		t.Errorf("err = %v, want unsupported backend", err)
	}
}

func TestNew_Identity(t *testing.T) {
	p, err := New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID() != "anyllm-openai" {
		t.Errorf("ID = %q", p.ID())
	}
	if p.Capabilities().IsLocal {
		t.Error("openai backend must not be local")
	}

	local, err := NewOllama("llama3.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !local.Capabilities().IsLocal {
		t.Error("ollama backend must be local")
	}
}

// ── Tool choice ──────────────────────────────────────────────────────────────

func TestGenerateCompletionWithTools_ForcedChoiceUnsupported(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv := llm.NewConversation("hi")
	for _, choice := range []llm.ToolChoice{llm.ChooseRequired(), llm.ChooseTool("x")} {
		_, err := p.GenerateCompletionWithTools(context.Background(), conv, choice, llm.GenerationOptions{})
		if !errors.Is(err, llm.ErrUnsupported) {
			t.Errorf("%s: err = %v, want unsupported", choice, err)
		}
	}
}

// ── Round trip against an OpenAI-compatible server ───────────────────────────

func TestGenerateCompletionWithTools_RoundTrip(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool := llm.MustTool("get_weather", "Get the weather for a city.", llm.ToolParameters{
		Properties: map[string]llm.ToolProperty{"city": llm.StringProperty{}},
	})

	conv := llm.NewConversation("hi", llm.WithTools(tool))
	resp, err := p.GenerateCompletionWithTools(context.Background(), conv, llm.ChooseAuto(), llm.GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || resp.Usage.InputTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if tools, _ := bodies[0]["tools"].([]any); len(tools) != 1 {
		t.Errorf("auto must send tools, got %v", bodies[0]["tools"])
	}

	if _, err := p.GenerateCompletionWithTools(context.Background(), conv, llm.ChooseNone(), llm.GenerationOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := bodies[1]["tools"]; ok {
		t.Errorf("none must omit tools, got %v", bodies[1]["tools"])
	}
}

func TestTrimFences(t *testing.T) {
	for in, want := range map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		" {\"a\":1}\n":            `{"a":1}`,
	} {
		if got := trimFences(in); got != want {
			t.Errorf("trimFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateCompletionWithTools_NoneWithHistory(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]}`)
	}))
	defer srv.Close()

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool := llm.MustTool("get_weather", "Get the weather for a city.", llm.ToolParameters{
		Properties: map[string]llm.ToolProperty{"city": llm.StringProperty{}},
	})
	conv := llm.NewConversation("hi", llm.WithTools(tool))
	conv.AddAssistantResponse("", []llm.ToolCall{{ID: "t1", Name: "get_weather", Arguments: `{"city":"Oslo"}`}})
	conv.AddToolResults([]llm.ToolResult{llm.Success("t1", "cold")})

	if _, err := p.GenerateCompletionWithTools(context.Background(), conv, llm.ChooseNone(), llm.GenerationOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools = %v, want the definitions kept", body["tools"])
	}
	if body["tool_choice"] != "none" {
		t.Errorf("tool_choice = %v, want none", body["tool_choice"])
	}
}

// ── Errors ───────────────────────────────────────────────────────────────────

func TestMapError(t *testing.T) {
	cause := errors.New("upstream said no")
	rateLimited := anyllmerrors.NewRateLimitError("openai", cause)
	rateLimited.RetryAfter = 7

	tests := []struct {
		name       string
		err        error
		kind       llm.Kind
		code       string
		retryAfter time.Duration
	}{
		{"rate limit", rateLimited, llm.KindRateLimit, "", 7 * time.Second},
		{"authentication", anyllmerrors.NewAuthenticationError("openai", cause), llm.KindAuthentication, "", 0},
		{"missing key", anyllmerrors.NewMissingAPIKeyError("openai", "OPENAI_API_KEY"), llm.KindAuthentication, "", 0},
		{"invalid request", anyllmerrors.NewInvalidRequestError("openai", cause), llm.KindInvalidRequest, "", 0},
		{"context length", anyllmerrors.NewContextLengthError("openai", cause), llm.KindContextLength, "", 0},
		{"model not found", anyllmerrors.NewModelNotFoundError("openai", cause), llm.KindInvalidRequest, "model_not_found", 0},
		{"content filter", anyllmerrors.NewContentFilterError("openai", cause), llm.KindProvider, "content_filter", 0},
		{"unsupported param", anyllmerrors.NewUnsupportedParamError("openai", "seed"), llm.KindUnsupported, "", 0},
		{"wrapped auth", fmt.Errorf("call: %w", anyllmerrors.NewAuthenticationError("openai", cause)), llm.KindAuthentication, "", 0},
		{"provider", anyllmerrors.NewProviderError("openai", cause), llm.KindProvider, "", 0},
		{"plain", cause, llm.KindProvider, "", 0},
		{"already classified", llm.DecodingError("bad", "{", nil), llm.KindDecoding, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(context.Background(), tt.err)
			var e *llm.Error
			if !errors.As(got, &e) {
				t.Fatalf("mapError returned %T, want *llm.Error", got)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", e.Kind, tt.kind)
			}
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if e.RetryAfter != tt.retryAfter {
				t.Errorf("retry after = %v, want %v", e.RetryAfter, tt.retryAfter)
			}
		})
	}
}

func TestMapError_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mapError(ctx, errors.New("request aborted"))
	if llm.KindOf(err) != llm.KindNetwork {
		t.Errorf("kind = %v, want network", llm.KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to match context.Canceled", err)
	}
}

func TestGenerateCompletion_DeadlineIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.GenerateCompletion(ctx, "hi", "", llm.GenerationOptions{})
	if llm.KindOf(err) != llm.KindNetwork {
		t.Fatalf("err = %v (kind %v), want network", err, llm.KindOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want to match context.DeadlineExceeded", err)
	}
}
