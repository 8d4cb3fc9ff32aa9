package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// Ledger stamps, validates and stores usage records.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option configures a [Ledger].
type Option func(*Ledger)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger returns a [Ledger] writing to store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() Store { return l.store }

// Record assigns an ID and timestamp when missing, validates r and stores
// it.
func (l *Ledger) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return l.store.Insert(ctx, r)
}

// Summary aggregates stored records matching f.
func (l *Ledger) Summary(ctx context.Context, f Filter) ([]Summary, error) {
	return l.store.Summarize(ctx, f)
}

// Recent lists stored records matching f, newest first.
func (l *Ledger) Recent(ctx context.Context, f Filter) ([]Record, error) {
	return l.store.List(ctx, f)
}

// TrackOption configures a provider wrapped by [Ledger.Track].
type TrackOption func(*tracked)

// WithName records calls under the configured provider name instead of the
// provider ID.
func WithName(name string) TrackOption {
	return func(t *tracked) { t.name = name }
}

// WithDefaultModel sets the model recorded when neither the call options
// nor the response name one.
func WithDefaultModel(model string) TrackOption {
	return func(t *tracked) { t.model = model }
}

// Track wraps p so every call is recorded in the ledger. Store failures are
// logged and never fail the call itself. When p implements
// [llm.ToolCaller] the returned value does too.
func (l *Ledger) Track(p llm.Provider, opts ...TrackOption) llm.Provider {
	base := &tracked{Provider: p, l: l}
	for _, o := range opts {
		o(base)
	}
	if base.name == "" {
		base.name = p.ID()
	}
	if tc, ok := p.(llm.ToolCaller); ok {
		return &trackedTools{tracked: base, tc: tc}
	}
	return base
}

type tracked struct {
	llm.Provider
	l     *Ledger
	name  string
	model string
}

type trackedTools struct {
	*tracked
	tc llm.ToolCaller
}

func (t *tracked) record(ctx context.Context, op string, opts llm.GenerationOptions, start time.Time, resp *llm.CompletionResponse, estimated bool, err error) {
	r := Record{
		RequestID: observe.RequestID(ctx),
		Provider:  t.name,
		Model:     opts.ModelOr(t.model),
		Operation: op,
		Latency:   time.Since(start),
		Estimated: estimated,
	}
	if err != nil {
		r.ErrorKind = llm.KindOf(err).String()
	}
	if resp != nil {
		if resp.Model != "" {
			r.Model = resp.Model
		}
		r.InputTokens = resp.Usage.InputTokens
		r.OutputTokens = resp.Usage.OutputTokens
		if pr := t.Capabilities().Pricing; pr != nil {
			r.CostUSD = pr.Cost(resp.Usage).Total()
		}
	}
	// The caller may have been cancelled; the record should still land.
	if err := t.l.Record(context.WithoutCancel(ctx), r); err != nil {
		observe.Logger(ctx).Warn("usage: failed to record call", "provider", r.Provider, "operation", op, "err", err)
	}
}

func (t *tracked) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := t.Provider.GenerateCompletion(ctx, prompt, systemPrompt, opts)
	t.record(ctx, "completion", opts, start, resp, false, err)
	return resp, err
}

func (t *tracked) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	start := time.Now()
	raw, err := t.Provider.GenerateStructuredOutput(ctx, prompt, systemPrompt, schema, opts)
	var resp *llm.CompletionResponse
	if err == nil {
		// Structured calls do not surface vendor usage; estimate both sides.
		resp = &llm.CompletionResponse{Usage: llm.TokenUsage{
			InputTokens:  t.EstimateTokens(systemPrompt + prompt + string(schema)),
			OutputTokens: t.EstimateTokens(string(raw)),
		}}
	}
	t.record(ctx, "structured", opts, start, resp, err == nil, err)
	return raw, err
}

func (t *tracked) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	start := time.Now()
	in, err := t.Provider.StreamCompletion(ctx, prompt, systemPrompt, opts)
	if err != nil {
		t.record(ctx, "stream", opts, start, nil, false, err)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var (
			text      strings.Builder
			streamErr error
		)
		defer func() {
			resp := &llm.CompletionResponse{Usage: llm.TokenUsage{
				InputTokens:  t.EstimateTokens(systemPrompt + prompt),
				OutputTokens: t.EstimateTokens(text.String()),
			}}
			t.record(ctx, "stream", opts, start, resp, true, streamErr)
		}()
		for c := range in {
			text.WriteString(c.Text)
			if c.Err != nil {
				streamErr = c.Err
			}
			select {
			case out <- c:
			case <-ctx.Done():
				if streamErr == nil {
					streamErr = ctx.Err()
				}
				return
			}
		}
	}()
	return out, nil
}

func (t *trackedTools) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := t.tc.GenerateCompletionWithTools(ctx, conv, choice, opts)
	t.record(ctx, "tools", opts, start, resp, false, err)
	return resp, err
}

func (t *trackedTools) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := t.tc.ContinueWithToolResults(ctx, conv, opts)
	t.record(ctx, "continue", opts, start, resp, false, err)
	return resp, err
}

// String formats s for logs and the CLI.
func (s Summary) String() string {
	return fmt.Sprintf("%s/%s: %d requests (%d failed), %d in / %d out tokens, $%.4f",
		s.Provider, s.Model, s.Requests, s.Failures, s.InputTokens, s.OutputTokens, s.CostUSD)
}
