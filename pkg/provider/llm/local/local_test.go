package local

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

func TestModelConfig_Capabilities(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ModelConfig
		wantOut   int
		wantTools bool
	}{
		{"derived output", ModelConfig{Name: "llama3", ContextWindow: 8192}, 4096, false},
		{"explicit output", ModelConfig{Name: "qwen", ContextWindow: 32768, MaxOutputTokens: 2048, SupportsToolCalling: true}, 2048, true},
		{"odd window", ModelConfig{Name: "tiny", ContextWindow: 4097}, 2048, false},
		{"single token window", ModelConfig{Name: "nano", ContextWindow: 1}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cfg.Capabilities()
			if c.MaxOutputTokens != tt.wantOut {
				t.Errorf("MaxOutputTokens = %d, want %d", c.MaxOutputTokens, tt.wantOut)
			}
			if c.SupportsToolCalling != tt.wantTools {
				t.Errorf("SupportsToolCalling = %v", c.SupportsToolCalling)
			}
			if c.Pricing != nil {
				t.Error("local pricing must be nil")
			}
			if !c.IsLocal {
				t.Error("IsLocal must be set")
			}
			if c.MaxContextTokens != tt.cfg.ContextWindow {
				t.Errorf("MaxContextTokens = %d", c.MaxContextTokens)
			}
			if err := c.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "", ModelConfig{Name: "m", ContextWindow: 10}); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := New("http://localhost:8080/v1", "", ModelConfig{Name: "m"}); err == nil {
		t.Error("expected error for zero context window")
	}
}

func TestGenerateCompletion_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-should-not-leak")
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","model":"llama3","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}]}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL+"/v1/", "", ModelConfig{Name: "llama3", ContextWindow: 8192})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ID() != "local" {
		t.Errorf("ID = %q", p.ID())
	}
	resp, err := p.GenerateCompletion(context.Background(), "hello", "", llm.GenerationOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hi" {
		t.Errorf("Text = %q", resp.Text)
	}
	if strings.Contains(auth, "sk-should-not-leak") {
		t.Errorf("environment key leaked to local server: %q", auth)
	}
}

func TestToolCalling_Disabled(t *testing.T) {
	p, err := New("http://localhost:1/v1/", "", ModelConfig{Name: "llama3", ContextWindow: 8192})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = llm.GenerateWithTools(context.Background(), p, llm.NewConversation("hi"), llm.ChooseAuto(), llm.GenerationOptions{})
	if !errors.Is(err, llm.ErrUnsupported) {
		t.Fatalf("err = %v, want unsupported", err)
	}
}
