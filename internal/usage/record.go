// Package usage keeps a ledger of provider calls: tokens, list-price cost,
// latency and outcome per request. Records go to a [Store], either the
// in-process [MemoryStore] or the PostgreSQL-backed [PostgresStore].
package usage

import (
	"errors"
	"fmt"
	"time"
)

// Record is one provider call.
type Record struct {
	ID        string
	RequestID string
	Provider  string
	Model     string
	Operation string

	InputTokens  int
	OutputTokens int

	// Estimated is set when OutputTokens was derived from streamed text
	// rather than reported by the vendor.
	Estimated bool

	CostUSD float64
	Latency time.Duration

	// ErrorKind is the error kind name for failed calls and empty on
	// success.
	ErrorKind string

	CreatedAt time.Time
}

// Failed reports whether the call ended in an error.
func (r Record) Failed() bool { return r.ErrorKind != "" }

// Validate checks required fields and value ranges.
func (r Record) Validate() error {
	var errs []error
	if r.Provider == "" {
		errs = append(errs, errors.New("provider must not be empty"))
	}
	if r.Operation == "" {
		errs = append(errs, errors.New("operation must not be empty"))
	}
	if r.InputTokens < 0 || r.OutputTokens < 0 {
		errs = append(errs, fmt.Errorf("token counts must not be negative (in=%d out=%d)", r.InputTokens, r.OutputTokens))
	}
	if r.CostUSD < 0 {
		errs = append(errs, fmt.Errorf("cost must not be negative (%f)", r.CostUSD))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("usage: invalid record: %w", err)
	}
	return nil
}

// Filter narrows List and Summarize. Zero values match everything.
type Filter struct {
	Provider string
	Since    time.Time
	// Limit caps List results. Zero means 100.
	Limit int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f Filter) match(r Record) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	return f.Since.IsZero() || !r.CreatedAt.Before(f.Since)
}

// Summary aggregates records per provider and model.
type Summary struct {
	Provider     string
	Model        string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}
