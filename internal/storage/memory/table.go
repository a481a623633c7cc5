package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Table collects inserted records in order.
type Table[R any] struct {
	mu      sync.Mutex
	records []R
	batches int
}

// InsertBatch appends records.
func (t *Table[R]) InsertBatch(_ context.Context, records []R) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, records...)
	t.batches++
	return nil
}

// Records returns a copy of everything inserted so far.
func (t *Table[R]) Records() []R {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]R(nil), t.records...)
}

// Batches counts InsertBatch calls.
func (t *Table[R]) Batches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches
}

// Sources is a fixed source list.
type Sources []crawler.Source

// SelectSources returns a copy of s.
func (s Sources) SelectSources(context.Context) ([]crawler.Source, error) {
	return append([]crawler.Source(nil), s...), nil
}
