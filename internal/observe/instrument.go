package observe

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// InstrumentProvider wraps p so every call produces a span, a latency
// sample, a request counter increment and, on success, token and cost
// counters priced from p's capabilities. Failed calls also increment
// [Metrics.ProviderErrors] labelled by error kind.
//
// When p implements [llm.ToolCaller] the returned value does too.
func InstrumentProvider(p llm.Provider, m *Metrics) llm.Provider {
	base := &instrumented{Provider: p, m: m}
	if tc, ok := p.(llm.ToolCaller); ok {
		return &instrumentedTools{instrumented: base, tc: tc}
	}
	return base
}

type instrumented struct {
	llm.Provider
	m *Metrics
}

type instrumentedTools struct {
	*instrumented
	tc llm.ToolCaller
}

// begin starts a span and returns a finish func that records the outcome.
func (i *instrumented) begin(ctx context.Context, op string, opts llm.GenerationOptions) (context.Context, func(*llm.CompletionResponse, error)) {
	provider := i.ID()
	ctx, span := StartSpan(ctx, "llm."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.operation", op),
		),
	)
	start := time.Now()

	return ctx, func(resp *llm.CompletionResponse, err error) {
		i.m.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", op),
		))
		if err != nil {
			i.m.RecordProviderRequest(ctx, provider, op, "error")
			i.m.RecordProviderError(ctx, provider, llm.KindOf(err).String())
			EndSpan(span, err)
			return
		}
		i.m.RecordProviderRequest(ctx, provider, op, "ok")
		if resp != nil {
			model := resp.Model
			if model == "" {
				model = opts.Model
			}
			i.m.RecordTokens(ctx, provider, model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			if pr := i.Capabilities().Pricing; pr != nil {
				i.m.RecordCost(ctx, provider, model, pr.Cost(resp.Usage).Total())
			}
			span.SetAttributes(
				attribute.String("llm.model", model),
				attribute.Int("llm.usage.input_tokens", resp.Usage.InputTokens),
				attribute.Int("llm.usage.output_tokens", resp.Usage.OutputTokens),
				attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
			)
		}
		EndSpan(span, nil)
	}
}

func (i *instrumented) GenerateCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	ctx, finish := i.begin(ctx, "completion", opts)
	resp, err := i.Provider.GenerateCompletion(ctx, prompt, systemPrompt, opts)
	finish(resp, err)
	return resp, err
}

func (i *instrumented) GenerateStructuredOutput(ctx context.Context, prompt, systemPrompt string, schema json.RawMessage, opts llm.GenerationOptions) (json.RawMessage, error) {
	ctx, finish := i.begin(ctx, "structured", opts)
	out, err := i.Provider.GenerateStructuredOutput(ctx, prompt, systemPrompt, schema, opts)
	finish(nil, err)
	return out, err
}

// StreamCompletion counts the stream as active until the returned channel
// closes. Latency covers the whole stream.
func (i *instrumented) StreamCompletion(ctx context.Context, prompt, systemPrompt string, opts llm.GenerationOptions) (<-chan llm.Chunk, error) {
	ctx, finish := i.begin(ctx, "stream", opts)
	in, err := i.Provider.StreamCompletion(ctx, prompt, systemPrompt, opts)
	if err != nil {
		finish(nil, err)
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("provider", i.ID()))
	i.m.ActiveStreams.Add(ctx, 1, attrs)

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var streamErr error
		defer func() {
			i.m.ActiveStreams.Add(context.WithoutCancel(ctx), -1, attrs)
			finish(nil, streamErr)
		}()
		for c := range in {
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

func (t *instrumentedTools) GenerateCompletionWithTools(ctx context.Context, conv *llm.Conversation, choice llm.ToolChoice, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	ctx, finish := t.begin(ctx, "tools", opts)
	resp, err := t.tc.GenerateCompletionWithTools(ctx, conv, choice, opts)
	finish(resp, err)
	return resp, err
}

func (t *instrumentedTools) ContinueWithToolResults(ctx context.Context, conv *llm.Conversation, opts llm.GenerationOptions) (*llm.CompletionResponse, error) {
	ctx, finish := t.begin(ctx, "continue", opts)
	resp, err := t.tc.ContinueWithToolResults(ctx, conv, opts)
	finish(resp, err)
	return resp, err
}

// InstrumentExecutor wraps exec so each tool run records a latency sample
// and a call counter increment labelled ok or error.
func InstrumentExecutor(exec llm.ToolExecutor, m *Metrics) llm.ToolExecutor {
	return llm.ToolExecutorFunc(func(ctx context.Context, call llm.ToolCall) (string, error) {
		ctx, span := StartSpan(ctx, "tool."+call.Name, trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
		start := time.Now()
		out, err := exec.ExecuteTool(ctx, call)
		m.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("tool", call.Name)))
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.RecordToolCall(ctx, call.Name, status)
		EndSpan(span, err)
		return out, err
	})
}

var (
	_ llm.Provider   = (*instrumented)(nil)
	_ llm.ToolCaller = (*instrumentedTools)(nil)
)
