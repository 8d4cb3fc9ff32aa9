package usage

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// Store persists usage records. Implementations must be safe for concurrent
// use.
type Store interface {
	// Insert stores r. r has already been validated and stamped.
	Insert(ctx context.Context, r Record) error

	// List returns matching records, newest first, capped at f.Limit.
	List(ctx context.Context, f Filter) ([]Record, error)

	// Summarize aggregates matching records per provider and model, ordered
	// by provider then model.
	Summarize(ctx context.Context, f Filter) ([]Summary, error)
}

// MemoryStore is a [Store] that keeps records in process memory. Records are
// lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Insert implements [Store].
func (m *MemoryStore) Insert(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// List implements [Store].
func (m *MemoryStore) List(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for i := len(m.records) - 1; i >= 0 && len(out) < f.limit(); i-- {
		if f.match(m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Summarize implements [Store].
func (m *MemoryStore) Summarize(_ context.Context, f Filter) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ provider, model string }
	byKey := make(map[key]*Summary)
	for _, r := range m.records {
		if !f.match(r) {
			continue
		}
		k := key{r.Provider, r.Model}
		s, ok := byKey[k]
		if !ok {
			s = &Summary{Provider: r.Provider, Model: r.Model}
			byKey[k] = s
		}
		s.Requests++
		if r.Failed() {
			s.Failures++
		}
		s.InputTokens += int64(r.InputTokens)
		s.OutputTokens += int64(r.OutputTokens)
		s.CostUSD += r.CostUSD
	}

	out := make([]Summary, 0, len(byKey))
	for _, s := range byKey {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		return cmp.Or(cmp.Compare(a.Provider, b.Provider), cmp.Compare(a.Model, b.Model))
	})
	return out, nil
}
