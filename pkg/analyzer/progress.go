package analyzer

import (
	"context"
	"sync"

	"github.com/akiramei/funcqc-sub009/pkg/models"
)

// BatchProgressFunc is called once per finished deletion batch with the
// batch's zero-based index, the number of batches in the run and the state
// the batch ended in.
type BatchProgressFunc func(index, total int, status models.BatchStatus)

// Tracker follows a batched deletion run. A nil *Tracker ignores all calls,
// so callers need not check whether one was attached.
type Tracker struct {
	mu       sync.Mutex
	total    int
	counts   map[models.BatchStatus]int
	callback BatchProgressFunc
}

// NewTracker creates a tracker that reports each finished batch to callback.
func NewTracker(callback BatchProgressFunc) *Tracker {
	return &Tracker{callback: callback, counts: make(map[models.BatchStatus]int)}
}

// Start records how many batches the run will process and resets the
// per-status counts.
func (t *Tracker) Start(total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.total = total
	clear(t.counts)
	t.mu.Unlock()
}

// Finish records the outcome of one batch and invokes the callback.
func (t *Tracker) Finish(br models.BatchResult) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.counts[br.Status]++
	total := t.total
	t.mu.Unlock()
	if t.callback != nil {
		t.callback(br.Index, total, br.Status)
	}
}

// Total returns the batch count passed to Start.
func (t *Tracker) Total() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Count returns how many batches have finished with status.
func (t *Tracker) Count(status models.BatchStatus) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[status]
}

type trackerKey struct{}

// WithTracker returns a context that carries a batch tracker.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFromContext extracts the batch tracker from the context.
// Returns nil if no tracker was set.
func TrackerFromContext(ctx context.Context) *Tracker {
	if t, ok := ctx.Value(trackerKey{}).(*Tracker); ok {
		return t
	}
	return nil
}
