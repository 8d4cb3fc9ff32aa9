// Package agent drives multi-round tool use: it asks a provider for a
// response, executes the tool calls it requests, feeds the results back and
// repeats until the model answers in plain text.
//
// A [Runner] is stateless between runs and safe for concurrent use; the
// conversation passed to [Runner.Run] carries all state.
package agent

import (
	"errors"
	"fmt"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

const (
	// DefaultMaxRounds bounds the number of provider calls in one run.
	DefaultMaxRounds = 8

	// DefaultConcurrency caps tool calls executed in parallel per round.
	DefaultConcurrency = 4

	// DefaultLoopWindow is the number of most recent tool calls inspected
	// for repetition.
	DefaultLoopWindow = 6
)

var (
	// ErrTooManyRounds is returned when the model still requests tools after
	// MaxRounds provider calls. The conversation holds every completed round.
	ErrTooManyRounds = errors.New("agent: too many tool rounds")

	// ErrToolLoop is returned when the model keeps issuing the same tool
	// calls with the same arguments.
	ErrToolLoop = errors.New("agent: repeated tool calls detected")
)

// Config configures a [Runner].
type Config struct {
	// Provider generates responses. It must implement [llm.ToolCaller] for
	// any tool to be offered. Required.
	Provider llm.Provider

	// Executor runs tool calls. Required.
	Executor llm.ToolExecutor

	// Options are applied to every provider call in a run.
	Options llm.GenerationOptions

	// MaxRounds defaults to [DefaultMaxRounds].
	MaxRounds int

	// Concurrency defaults to [DefaultConcurrency]. Negative means no limit.
	Concurrency int

	// LoopWindow defaults to [DefaultLoopWindow]. Negative disables loop
	// detection.
	LoopWindow int

	// OnStep, if set, is called after each round with the response and the
	// results of the tools it requested.
	OnStep func(Step)
}

// Step describes one completed round.
type Step struct {
	Round    int
	Response *llm.CompletionResponse
	Results  []llm.ToolResult
}

// Result summarises a run.
type Result struct {
	// Response is the final response, without tool calls on success.
	Response *llm.CompletionResponse

	// Rounds is the number of provider calls made.
	Rounds int

	// ToolCalls is the number of tool calls executed.
	ToolCalls int

	// Usage sums token usage over all rounds.
	Usage llm.TokenUsage
}

// Runner executes tool-calling loops.
type Runner struct {
	cfg Config
}

// New validates cfg, applies defaults and returns a [Runner].
//
// Errors are prefixed with "agent: ".
func New(cfg Config) (*Runner, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("agent: Provider must not be nil"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("agent: Executor must not be nil"))
	}
	if cfg.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("agent: MaxRounds must not be negative (got %d)", cfg.MaxRounds))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	switch {
	case cfg.Concurrency == 0:
		cfg.Concurrency = DefaultConcurrency
	case cfg.Concurrency < 0:
		cfg.Concurrency = 0
	}
	if cfg.LoopWindow == 0 {
		cfg.LoopWindow = DefaultLoopWindow
	}
	return &Runner{cfg: cfg}, nil
}
