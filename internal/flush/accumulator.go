// Package flush buffers extracted records and hands them to a persistence
// collaborator in batches.
package flush

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// DefaultThreshold is the insert batch size used when none is configured.
const DefaultThreshold = 500

// Accumulator buffers records until Threshold is reached. It is not safe
// for concurrent use; one pipeline run owns it.
type Accumulator[R any] struct {
	sink      crawler.Inserter[R]
	target    string
	threshold int
	logger    *zap.Logger
	// OnFlush observes every successful insert.
	OnFlush func(records int)

	buf       []R
	flushes   int
	persisted int
}

// New builds an Accumulator. target names the sink in errors and metrics.
// threshold < 1 selects DefaultThreshold.
func New[R any](sink crawler.Inserter[R], target string, threshold int, logger *zap.Logger) *Accumulator[R] {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator[R]{
		sink:      sink,
		target:    target,
		threshold: threshold,
		logger:    logger,
	}
}

// Offer appends records to the buffer.
func (a *Accumulator[R]) Offer(records ...R) {
	a.buf = append(a.buf, records...)
}

// MaybeFlush inserts the whole buffer once it holds at least Threshold
// records.
func (a *Accumulator[R]) MaybeFlush(ctx context.Context) error {
	if len(a.buf) < a.threshold {
		return nil
	}
	return a.flush(ctx)
}

// Flush inserts whatever is buffered. An empty buffer is a no-op.
func (a *Accumulator[R]) Flush(ctx context.Context) error {
	if len(a.buf) == 0 {
		return nil
	}
	return a.flush(ctx)
}

func (a *Accumulator[R]) flush(ctx context.Context) error {
	n := len(a.buf)
	if err := a.sink.InsertBatch(ctx, a.buf); err != nil {
		metrics.ObserveFlush(a.target, n, err)
		// The buffer is kept so the caller can inspect what was lost.
		return &crawler.PersistenceError{Target: a.target, Count: n, Err: err}
	}
	metrics.ObserveFlush(a.target, n, nil)
	a.flushes++
	a.persisted += n
	a.logger.Info("flushed records",
		zap.String("target", a.target),
		zap.Int("records", n),
		zap.Int("persisted_total", a.persisted),
	)
	if a.OnFlush != nil {
		a.OnFlush(n)
	}
	a.buf = make([]R, 0, a.threshold)
	return nil
}

// Buffered returns the records not yet persisted.
func (a *Accumulator[R]) Buffered() []R { return a.buf }

// Len is the number of buffered records.
func (a *Accumulator[R]) Len() int { return len(a.buf) }

// Threshold is the effective flush threshold.
func (a *Accumulator[R]) Threshold() int { return a.threshold }

// Flushes counts successful inserts.
func (a *Accumulator[R]) Flushes() int { return a.flushes }

// Persisted counts records successfully inserted.
func (a *Accumulator[R]) Persisted() int { return a.persisted }
