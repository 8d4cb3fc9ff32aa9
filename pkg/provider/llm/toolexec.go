package llm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ToolExecutor runs a single tool call and returns its success payload.
// Returning a *[ToolExecutionError] controls the category reported to the
// model; any other error is classified by [ToolFailure].
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, call ToolCall) (string, error)
}

// ToolExecutorFunc adapts a function to [ToolExecutor].
type ToolExecutorFunc func(ctx context.Context, call ToolCall) (string, error)

// ExecuteTool implements [ToolExecutor].
func (f ToolExecutorFunc) ExecuteTool(ctx context.Context, call ToolCall) (string, error) {
	return f(ctx, call)
}

// ExecuteToolCalls runs calls concurrently and returns one result per call,
// in the order of calls regardless of completion order. limit caps the number
// of calls in flight; zero or negative means no limit.
//
// Failures never abort sibling calls: each becomes a failed [ToolResult].
func ExecuteToolCalls(ctx context.Context, calls []ToolCall, exec ToolExecutor, limit int) []ToolResult {
	results := make([]ToolResult, len(calls))

	// Plain errgroup.Group: one failing tool must not cancel the others.
	var eg errgroup.Group
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, call := range calls {
		eg.Go(func() error {
			results[i] = runTool(ctx, exec, call)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func runTool(ctx context.Context, exec ToolExecutor, call ToolCall) (res ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(call.ID, ToolExecutionError{
				Category: ToolErrUnknown,
				Message:  fmt.Sprintf("tool %q panicked: %v", call.Name, r),
			})
		}
	}()
	if err := ctx.Err(); err != nil {
		return ToolFailure(call.ID, err)
	}
	out, err := exec.ExecuteTool(ctx, call)
	if err != nil {
		return ToolFailure(call.ID, err)
	}
	return Success(call.ID, out)
}

// ToolFailure classifies err into a failed [ToolResult] for the call id.
func ToolFailure(toolCallID string, err error) ToolResult {
	var te *ToolExecutionError
	if errors.As(err, &te) {
		return Failure(toolCallID, *te)
	}
	return Failure(toolCallID, ToolExecutionError{
		Category: toolErrorCategory(err),
		Message:  err.Error(),
	})
}

func toolErrorCategory(err error) ToolErrorCategory {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ToolErrExecutionTimeout
	case errors.Is(err, context.Canceled):
		return ToolErrCancelled
	}
	switch KindOf(err) {
	case KindAuthentication:
		return ToolErrAuthenticationFailed
	case KindRateLimit:
		return ToolErrRateLimited
	case KindNetwork:
		return ToolErrNetworkError
	case KindDecoding, KindInvalidRequest:
		return ToolErrInvalidArguments
	}
	return ToolErrUnknown
}
