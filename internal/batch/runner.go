// Package batch runs fetch-and-extract workers over work items in bounded
// concurrent windows.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Worker fetches one item and extracts its records.
type Worker[R any] func(ctx context.Context, item crawler.WorkItem) ([]R, error)

// Result is the outcome for one work item. Err is nil on success.
type Result[R any] struct {
	Item    crawler.WorkItem
	Records []R
	Err     error
}

// Failed reports whether the item produced an error.
func (r Result[R]) Failed() bool { return r.Err != nil }

// Runner executes workers in consecutive windows of at most concurrency
// items. The zero value is usable.
type Runner[R any] struct {
	Logger *zap.Logger
	// OnWindow, when set, is called after each window with its results.
	OnWindow func(results []Result[R])
}

// Run returns exactly one result per item, in input order. A failing or
// panicking worker only fails its own item. Once ctx is done, items in
// windows not yet started fail with a TransportError.
func (r *Runner[R]) Run(ctx context.Context, items []crawler.WorkItem, worker Worker[R], concurrency int) []Result[R] {
	if concurrency < 1 {
		concurrency = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]Result[R], len(items))
	for start := 0; start < len(items); start += concurrency {
		end := min(start+concurrency, len(items))
		window := results[start:end]

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i] = Result[R]{
					Item: items[i],
					Err:  &crawler.TransportError{URL: items[i].URL, Err: err},
				}
			}
			logger.Warn("run canceled before window",
				zap.Int("skipped", len(items)-start),
				zap.Error(err),
			)
			return results
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			item := items[i]
			slot := &results[i]
			g.Go(func() error {
				records, err := invoke(ctx, worker, item)
				*slot = Result[R]{Item: item, Records: records, Err: err}
				if err != nil {
					kind := crawler.Classify(err)
					metrics.ObserveItemFailure(string(kind))
					logger.Warn("work item failed",
						zap.String("url", item.URL),
						zap.Any("context", item.Context),
						zap.String("kind", string(kind)),
						zap.Error(err),
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		if r.OnWindow != nil {
			r.OnWindow(window)
		}
	}
	return results
}

func invoke[R any](ctx context.Context, worker Worker[R], item crawler.WorkItem) (records []R, err error) {
	defer func() {
		if p := recover(); p != nil {
			records = nil
			err = fmt.Errorf("worker panic on %s: %v\n%s", item.URL, p, debug.Stack())
		}
	}()
	return worker(ctx, item)
}
