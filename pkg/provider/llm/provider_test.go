package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// stubProvider implements Provider only, without ToolCaller.
type stubProvider struct {
	caps Capabilities
	raw  string
}

func (s *stubProvider) ID() string { return "stub" }
func (s *stubProvider) DisplayName() string { return "Stub" }
func (s *stubProvider) Capabilities() Capabilities { return s.caps }
func (s *stubProvider) EstimateTokens(text string) int {
	return EstimateTokens(text)
}

func (s *stubProvider) GenerateCompletion(context.Context, string, string, GenerationOptions) (*CompletionResponse, error) {
	return &CompletionResponse{Text: s.raw}, nil
}

func (s *stubProvider) GenerateStructuredOutput(_ context.Context, _, _ string, _ json.RawMessage, _ GenerationOptions) (json.RawMessage, error) {
	return json.RawMessage(s.raw), nil
}

func (s *stubProvider) StreamCompletion(context.Context, string, string, GenerationOptions) (<-chan Chunk, error) {
	ch := make(chan Chunk, 2)
	ch <- Chunk{Text: "a"}
	ch <- Chunk{Text: "b"}
	close(ch)
	return ch, nil
}

// toolStub adds ToolCaller on top of stubProvider.
type toolStub struct {
	stubProvider
	continued int
}

func (s *toolStub) GenerateCompletionWithTools(context.Context, *Conversation, ToolChoice, GenerationOptions) (*CompletionResponse, error) {
	return &CompletionResponse{ToolCalls: []ToolCall{{ID: "call_1", Name: "t"}}}, nil
}

func (s *toolStub) ContinueWithToolResults(context.Context, *Conversation, GenerationOptions) (*CompletionResponse, error) {
	s.continued++
	return &CompletionResponse{Text: "final"}, nil
}

func TestGenerateWithTools_DefaultMessages(t *testing.T) {
	conv := NewConversation("hi")

	_, errAbsent := GenerateWithTools(context.Background(), &stubProvider{}, conv, ChooseAuto(), GenerationOptions{})
	if !errors.Is(errAbsent, ErrUnsupported) {
		t.Fatalf("err = %v, want unsupported", errAbsent)
	}
	if !strings.Contains(errAbsent.Error(), "does not support tool calling") {
		t.Errorf("capability-absent message = %q", errAbsent)
	}

	capable := &stubProvider{caps: Capabilities{SupportsToolCalling: true}}
	_, errPending := GenerateWithTools(context.Background(), capable, conv, ChooseAuto(), GenerationOptions{})
	if !errors.Is(errPending, ErrUnsupported) {
		t.Fatalf("err = %v, want unsupported", errPending)
	}
	if !strings.Contains(errPending.Error(), "not yet implemented") {
		t.Errorf("not-implemented message = %q", errPending)
	}
	if errAbsent.Error() == errPending.Error() {
		t.Error("the two unsupported cases must be distinguishable")
	}

	_, errCont := ContinueWithToolResults(context.Background(), capable, conv, GenerationOptions{})
	if !errors.Is(errCont, ErrUnsupported) {
		t.Errorf("continue err = %v, want unsupported", errCont)
	}
}

func TestGenerateWithTools_Delegates(t *testing.T) {
	p := &toolStub{}
	conv := NewConversation("hi")
	resp, err := GenerateWithTools(context.Background(), p, conv, ChooseRequired(), GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv.AddResponse(resp)

	// Continuing before results are appended is a caller error.
	if _, err := ContinueWithToolResults(context.Background(), p, conv, GenerationOptions{}); !errors.Is(err, ErrNoToolResults) {
		t.Fatalf("err = %v, want ErrNoToolResults", err)
	}
	if p.continued != 0 {
		t.Fatal("provider must not be contacted for a non-continuable conversation")
	}

	conv.AddToolResults([]ToolResult{Success("call_1", "ok")})
	resp, err = ContinueWithToolResults(context.Background(), p, conv, GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "final" {
		t.Errorf("Text = %q, want final", resp.Text)
	}
}

func TestGenerateWithTools_RejectsBadChoice(t *testing.T) {
	_, err := GenerateWithTools(context.Background(), &toolStub{}, NewConversation("hi"), ToolChoice{Mode: ToolChoiceTool}, GenerationOptions{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}

func TestCollectStream(t *testing.T) {
	ch, _ := (&stubProvider{}).StreamCompletion(context.Background(), "", "", GenerationOptions{})
	text, err := CollectStream(ch)
	if err != nil || text != "ab" {
		t.Fatalf("CollectStream = %q, %v", text, err)
	}

	failing := make(chan Chunk, 3)
	boom := errors.New("boom")
	failing <- Chunk{Text: "x"}
	failing <- Chunk{Err: boom}
	failing <- Chunk{Text: "ignored"}
	close(failing)
	text, err = CollectStream(failing)
	if !errors.Is(err, boom) || text != "x" {
		t.Fatalf("CollectStream = %q, %v", text, err)
	}
}

func TestGenerateStructured(t *testing.T) {
	type answer struct {
		City string `json:"city"`
		Temp int    `json:"temp"`
	}
	got, err := GenerateStructured[answer](context.Background(), &stubProvider{raw: `{"city":"Boston","temp":72}`}, "q", "", GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.City != "Boston" || got.Temp != 72 {
		t.Errorf("got %+v", got)
	}

	_, err = GenerateStructured[answer](context.Background(), &stubProvider{raw: `{"city":1}`}, "q", "", GenerationOptions{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindDecoding {
		t.Fatalf("err = %v, want decoding error", err)
	}
	if e.Raw != `{"city":1}` {
		t.Errorf("Raw = %q", e.Raw)
	}
}

func TestSchemaFor(t *testing.T) {
	type item struct {
		Name  string   `json:"name"`
		Tags  []string `json:"tags,omitempty"`
		Count int      `json:"count"`
	}
	raw, err := SchemaFor[item]()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	props, _ := schema["properties"].(map[string]any)
	for _, key := range []string{"name", "tags", "count"} {
		if _, ok := props[key]; !ok {
			t.Errorf("missing property %q in %s", key, raw)
		}
	}
}

func TestValidateJSON(t *testing.T) {
	if _, err := ValidateJSON(`{"a":1}`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	_, err := ValidateJSON("Sure! Here it is")
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindDecoding || e.Raw != "Sure! Here it is" {
		t.Fatalf("err = %#v", err)
	}
}
