package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestErrorFromResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     http.Header
		body       string
		wantKind   Kind
		wantCode   string
		wantRetry  time.Duration
		wantSubstr string
	}{
		{
			name:      "rate limit with retry-after",
			status:    429,
			header:    http.Header{"Retry-After": []string{"30"}},
			wantKind:  KindRateLimit,
			wantRetry: 30 * time.Second,
		},
		{
			name:     "rate limit without header",
			status:   429,
			wantKind: KindRateLimit,
		},
		{
			name:       "unauthorized",
			status:     401,
			body:       `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantKind:   KindAuthentication,
			wantSubstr: "invalid x-api-key",
		},
		{
			name:       "bad request",
			status:     400,
			body:       `{"error":"model not found"}`,
			wantKind:   KindInvalidRequest,
			wantSubstr: "model not found",
		},
		{
			name:       "unmapped status",
			status:     418,
			body:       "I'm a teapot",
			wantKind:   KindProvider,
			wantCode:   "418",
			wantSubstr: "teapot",
		},
		{
			name:       "server error with empty body",
			status:     503,
			wantKind:   KindProvider,
			wantCode:   "503",
			wantSubstr: "Service Unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			err := ErrorFromResponse(tt.status, header, []byte(tt.body))
			if err.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", err.Kind, tt.wantKind)
			}
			if err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", err.Code, tt.wantCode)
			}
			if err.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", err.RetryAfter, tt.wantRetry)
			}
			if !strings.Contains(err.Error(), tt.wantSubstr) {
				t.Errorf("Error() = %q, want substring %q", err.Error(), tt.wantSubstr)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"2.5":       2500 * time.Millisecond,
		" 3 ":       3 * time.Second,
		"":          0,
		"soon":      0,
		"-4":        0,
		"NaN":       0,
		"nan":       0,
		"Inf":       MaxRetryAfter,
		"+Inf":      MaxRetryAfter,
		"-Inf":      0,
		"1e300":     MaxRetryAfter,
		"1e400":     MaxRetryAfter,
		"86400":     MaxRetryAfter,
		"999999999": MaxRetryAfter,
	} {
		if got := ParseRetryAfter(in); got != want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
	distant := time.Now().Add(30 * 24 * time.Hour).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(distant); got != MaxRetryAfter {
		t.Errorf("ParseRetryAfter(%s) = %v, want %v", distant, got, MaxRetryAfter)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got < 80*time.Second || got > 91*time.Second {
		t.Errorf("ParseRetryAfter(%s) = %v, want about 90s", future, got)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(past); got != 0 {
		t.Errorf("ParseRetryAfter(past) = %v, want 0", got)
	}
}

func TestReadErrorBody_Bounded(t *testing.T) {
	body := ReadErrorBody(strings.NewReader(strings.Repeat("x", 1<<20)))
	if len(body) != maxErrorBody {
		t.Fatalf("len = %d, want %d", len(body), maxErrorBody)
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ProviderError("boom", "500"))
	if !errors.Is(err, ErrProvider) {
		t.Error("expected errors.Is(err, ErrProvider)")
	}
	if errors.Is(err, ErrNetwork) {
		t.Error("provider error must not match ErrNetwork")
	}
	if KindOf(err) != KindProvider {
		t.Errorf("KindOf = %v", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors classify as unknown")
	}
}

func TestNetworkError_UnwrapsCause(t *testing.T) {
	err := NetworkError(context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in chain")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("expected ErrNetwork")
	}
}

func TestContextLengthError_Message(t *testing.T) {
	err := ContextLengthError(300_000, 200_000)
	if got := err.Error(); got != "context length exceeded: requested 300000 tokens, maximum 200000" {
		t.Errorf("Error() = %q", got)
	}
}
