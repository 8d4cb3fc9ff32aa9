package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker. The last underlying error is wrapped alongside it.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// overwritten per entry. When IsFailure is nil it defaults to
	// ShouldFallback so caller errors never trip a breaker.
	CircuitBreaker CircuitBreakerConfig

	// ShouldFallback reports whether err justifies trying the next entry.
	// Nil means every error does. Errors it rejects are returned to the
	// caller unchanged.
	ShouldFallback func(error) bool
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary value and ordered fallbacks of the same type,
// each behind its own [CircuitBreaker]. Calls go to the first member whose
// breaker admits them and move on when it fails.
//
// Register every fallback before sharing the group; calls are then safe
// for concurrent use.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = cfg.ShouldFallback
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: fallback, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the first member's value.
func (fg *FallbackGroup[T]) Primary() T { return fg.members[0].value }

// Names lists member names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		out = append(out, m.name)
	}
	return out
}

// States maps each member name to its breaker state.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.members))
	for _, m := range fg.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

func (fg *FallbackGroup[T]) retryable(err error) bool {
	return fg.cfg.ShouldFallback == nil || fg.cfg.ShouldFallback(err)
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult calls fn on each member in turn until one succeeds.
// Members with an open breaker are skipped. An error ShouldFallback rejects
// is returned unchanged without trying further members. When no member
// succeeds the error wraps [ErrAllFailed] and the last failure.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i, m := range fg.members {
		var out R
		err := m.breaker.Execute(func() (err error) {
			out, err = fn(m.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("fallback: circuit open, skipping", "member", m.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		case !fg.retryable(err):
			return zero, err
		}
		lastErr = err
		if i+1 < len(fg.members) {
			slog.Warn("fallback: member failed, trying next", "member", m.name, "next", fg.members[i+1].name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
