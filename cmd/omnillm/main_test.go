package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadPrompt(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{"args", []string{"hello", "there"}, "ignored", "hello there", false},
		{"stdin", nil, "  from stdin\n", "from stdin", false},
		{"dash", []string{"-"}, "piped", "piped", false},
		{"empty stdin", nil, "   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(tt.args, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("prompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChatLoop(t *testing.T) {
	var turns []string
	var out bytes.Buffer
	err := chatLoop(strings.NewReader("first\n\n  second  \nboom\n"), &out, func(p string) error {
		turns = append(turns, p)
		if p == "boom" {
			return errors.New("kaput")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if strings.Join(turns, "|") != "first|second|boom" {
		t.Errorf("turns = %q", turns)
	}
	if !strings.Contains(out.String(), "error: kaput") {
		t.Errorf("output = %q, want turn error printed", out.String())
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "nope.yaml")
	t.Cleanup(func() { configPath = "" })
	_, err := loadConfig()
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

// TestComplete_EndToEnd drives the complete command against a local
// OpenAI-compatible server.
func TestComplete_EndToEnd(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","model":"llama3","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"pong"}}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`)
	}))
	defer srv.Close()

	cfgFile := filepath.Join(t.TempDir(), "omnillm.yaml")
	yaml := `
server:
  log_level: error
providers:
  - name: box
    type: local
    base_url: ` + srv.URL + `/v1/
    local:
      name: llama3
      context_window: 8192
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { configPath = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", cfgFile, "complete", "--system", "be terse", "ping"})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != "pong" {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(gotBody, `"be terse"`) || !strings.Contains(gotBody, `"llama3"`) {
		t.Errorf("request body = %s", gotBody)
	}
}
