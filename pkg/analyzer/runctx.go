package analyzer

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// RunContext owns every memoization table used during one analysis run.
// It is created per run and discarded afterwards; it is never shared
// between concurrent runs.
type RunContext struct {
	ID         string
	SnapshotID string
	Logger     *slog.Logger

	mu     sync.Mutex
	tables map[string]any
}

// NewRunContext creates a run context for the given snapshot.
func NewRunContext(snapshotID string, logger *slog.Logger) *RunContext {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.NewString()
	return &RunContext{
		ID:         id,
		SnapshotID: snapshotID,
		Logger:     logger.With("run", id),
		tables:     make(map[string]any),
	}
}

// Memo is a concurrency-safe memoization table.
type Memo[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
}

// Get returns the cached value for key.
func (m *Memo[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

// Set stores a value for key.
func (m *Memo[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// GetOrCompute returns the cached value or computes and stores it.
// compute runs outside the lock; concurrent callers for the same key may
// both compute, and the first stored value wins.
func (m *Memo[K, V]) GetOrCompute(key K, compute func() V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	v := compute()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[key]; ok {
		return existing
	}
	m.entries[key] = v
	return v
}

// Len returns the number of cached entries.
func (m *Memo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Table returns the named memo table of the run, creating it on first use.
// A nil RunContext yields a fresh, unshared table.
func Table[K comparable, V any](rc *RunContext, name string) *Memo[K, V] {
	if rc == nil {
		return &Memo[K, V]{entries: make(map[K]V)}
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if t, ok := rc.tables[name]; ok {
		if memo, ok := t.(*Memo[K, V]); ok {
			return memo
		}
	}
	memo := &Memo[K, V]{entries: make(map[K]V)}
	rc.tables[name] = memo
	return memo
}

type runContextKey struct{}

// WithRunContext attaches rc to ctx.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFrom returns the RunContext attached to ctx, if any.
func RunContextFrom(ctx context.Context) *RunContext {
	if ctx == nil {
		return nil
	}
	rc, _ := ctx.Value(runContextKey{}).(*RunContext)
	return rc
}
