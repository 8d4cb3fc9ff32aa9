package agent

import (
	"context"
	"fmt"

	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// Run drives conv until the model responds without tool calls. choice
// applies to the first round only; later rounds continue with the
// provider's default so a forced choice cannot repeat forever.
//
// Every response and tool result is appended to conv as it happens, so on
// error conv reflects the rounds completed so far. The provider always sees
// a snapshot, which lets other goroutines read conv during a run.
func (r *Runner) Run(ctx context.Context, conv *llm.SafeConversation, choice llm.ToolChoice) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "agent.run")
	res, err := r.run(ctx, conv, choice)
	observe.EndSpan(span, err)
	return res, err
}

// RunPrompt starts a new conversation from prompt and runs it.
func (r *Runner) RunPrompt(ctx context.Context, prompt, systemPrompt string, tools []llm.Tool, choice llm.ToolChoice) (*Result, *llm.SafeConversation, error) {
	opts := []llm.ConversationOption{llm.WithTools(tools...)}
	if systemPrompt != "" {
		opts = append(opts, llm.WithSystemPrompt(systemPrompt))
	}
	conv := llm.NewSafeConversation(llm.NewConversation(prompt, opts...))
	res, err := r.Run(ctx, conv, choice)
	return res, conv, err
}

func (r *Runner) run(ctx context.Context, conv *llm.SafeConversation, choice llm.ToolChoice) (*Result, error) {
	log := observe.Logger(ctx)
	res := &Result{}
	var history []string

	resp, err := llm.GenerateWithTools(ctx, r.cfg.Provider, conv.Snapshot(), choice, r.cfg.Options)
	for {
		if err != nil {
			return res, fmt.Errorf("agent: round %d: %w", res.Rounds+1, err)
		}
		if resp == nil {
			return res, fmt.Errorf("agent: round %d: %w", res.Rounds+1, llm.UnknownError(fmt.Errorf("provider %s returned no response", r.cfg.Provider.ID())))
		}
		res.Rounds++
		res.Response = resp
		res.Usage.InputTokens += resp.Usage.InputTokens
		res.Usage.OutputTokens += resp.Usage.OutputTokens
		conv.AddAssistantResponse(resp.Text, resp.ToolCalls)

		if !resp.RequiresToolExecution() {
			r.step(res.Rounds, resp, nil)
			return res, nil
		}

		log.Debug("agent: executing tool calls", "round", res.Rounds, "calls", len(resp.ToolCalls))
		results := llm.ExecuteToolCalls(ctx, resp.ToolCalls, r.cfg.Executor, r.cfg.Concurrency)
		conv.AddToolResults(results)
		res.ToolCalls += len(results)
		r.step(res.Rounds, resp, results)

		for _, c := range resp.ToolCalls {
			history = append(history, signature(c))
		}
		if r.cfg.LoopWindow > 0 && detectLoop(history, r.cfg.LoopWindow) {
			return res, ErrToolLoop
		}
		if res.Rounds >= r.cfg.MaxRounds {
			return res, fmt.Errorf("%w: stopped after %d", ErrTooManyRounds, res.Rounds)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		resp, err = llm.ContinueWithToolResults(ctx, r.cfg.Provider, conv.Snapshot(), r.cfg.Options)
	}
}

func (r *Runner) step(round int, resp *llm.CompletionResponse, results []llm.ToolResult) {
	if r.cfg.OnStep != nil {
		r.cfg.OnStep(Step{Round: round, Response: resp, Results: results})
	}
}
