// Package pipeline composes page discovery, the bounded batch runner,
// deduplication and batched persistence into one crawl run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/flush"
)

// DefaultConcurrency is the fetch window size used when none is configured.
const DefaultConcurrency = 10

// Discoverer expands seeds into the pages to crawl, e.g. pagination.
type Discoverer func(ctx context.Context, seeds []crawler.WorkItem) ([]crawler.WorkItem, error)

// Summary reports what one run did.
type Summary struct {
	Target                string    `json:"target"`
	Seeds                 int       `json:"seeds"`
	Pages                 int       `json:"pages"`
	Succeeded             int       `json:"succeeded"`
	Failed                int       `json:"failed"`
	SkippedMissingContext int       `json:"skipped_missing_context"`
	Extracted             int       `json:"extracted"`
	Duplicates            int       `json:"duplicates"`
	Persisted             int       `json:"persisted"`
	Flushes               int       `json:"flushes"`
	Started               time.Time `json:"started"`
	Finished              time.Time `json:"finished"`
}

// Add folds another stage's summary into s.
func (s *Summary) Add(o Summary) {
	s.Seeds += o.Seeds
	s.Pages += o.Pages
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.SkippedMissingContext += o.SkippedMissingContext
	s.Extracted += o.Extracted
	s.Duplicates += o.Duplicates
	s.Persisted += o.Persisted
	s.Flushes += o.Flushes
	if s.Started.IsZero() || (!o.Started.IsZero() && o.Started.Before(s.Started)) {
		s.Started = o.Started
	}
	if o.Finished.After(s.Finished) {
		s.Finished = o.Finished
	}
}

// Pipeline is one crawl stage: seeds in, deduplicated records persisted.
type Pipeline[R any] struct {
	// Runner is optional; its Logger and OnWindow are honored.
	Runner   *batch.Runner[R]
	Sink     crawler.Inserter[R]
	Discover Discoverer
	Extract  batch.Worker[R]
	// DedupBy returns a record's identity. Empty keys are never deduplicated.
	DedupBy func(R) string

	Concurrency int
	Threshold   int
	// Target names the sink in logs, metrics and errors.
	Target string
	Logger *zap.Logger
	// OnFlush observes each successful insert.
	OnFlush func(records int)
	// Now is used for Summary timestamps.
	Now func() time.Time
}

// Run executes the stage. A discovery failure, a persistence failure or a
// done ctx ends the run; the partial Summary is returned with the error.
// Everything flushed before a failure stays persisted, and pages never
// fetched because of cancellation count as failed.
func (p *Pipeline[R]) Run(ctx context.Context, seeds []crawler.WorkItem) (Summary, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("target", p.Target))

	summary := Summary{Target: p.Target, Seeds: len(seeds), Started: now()}
	if len(seeds) == 0 {
		summary.Finished = summary.Started
		return summary, nil
	}
	if p.Extract == nil || p.Sink == nil {
		return summary, errors.New("pipeline requires Extract and Sink")
	}

	pages := seeds
	if p.Discover != nil {
		discovered, err := p.Discover(ctx, seeds)
		if err != nil {
			summary.Finished = now()
			return summary, fmt.Errorf("discover pages: %w", err)
		}
		pages = discovered
	}
	summary.Pages = len(pages)

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	acc := flush.New(p.Sink, p.Target, p.Threshold, logger)
	acc.OnFlush = p.OnFlush

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := make(map[string]struct{})
	var persistErr error
	observed := 0
	runner := batch.Runner[R]{Logger: logger}
	var userWindow func([]batch.Result[R])
	if p.Runner != nil {
		if p.Runner.Logger != nil {
			runner.Logger = p.Runner.Logger
		}
		userWindow = p.Runner.OnWindow
	}
	runner.OnWindow = func(results []batch.Result[R]) {
		observed += len(results)
		if userWindow != nil {
			userWindow(results)
		}
		if persistErr != nil {
			return
		}
		for _, res := range results {
			switch kind := crawler.Classify(res.Err); kind {
			case crawler.KindNone:
				summary.Succeeded++
			case crawler.KindContextLookup:
				summary.SkippedMissingContext++
				continue
			default:
				summary.Failed++
				continue
			}
			summary.Extracted += len(res.Records)
			for _, rec := range res.Records {
				if key := p.dedupKey(rec); key != "" {
					if _, dup := seen[key]; dup {
						summary.Duplicates++
						continue
					}
					seen[key] = struct{}{}
				}
				acc.Offer(rec)
			}
		}
		if err := acc.MaybeFlush(runCtx); err != nil {
			persistErr = err
			cancel()
		}
	}

	results := runner.Run(runCtx, pages, p.Extract, concurrency)
	if persistErr == nil {
		// Windows skipped after cancellation never reach OnWindow.
		summary.Failed += len(results) - observed
	}

	if persistErr == nil {
		persistErr = acc.Flush(ctx)
	}
	summary.Persisted = acc.Persisted()
	summary.Flushes = acc.Flushes()
	summary.Finished = now()

	if persistErr != nil {
		logger.Error("run aborted by persistence failure",
			zap.Int("persisted", summary.Persisted),
			zap.Int("unflushed", acc.Len()),
			zap.Error(persistErr),
		)
		return summary, persistErr
	}
	if err := ctx.Err(); err != nil {
		logger.Error("run interrupted",
			zap.Int("pages", summary.Pages),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("persisted", summary.Persisted),
			zap.Error(err),
		)
		return summary, &crawler.TransportError{URL: p.Target, Err: fmt.Errorf("run interrupted: %w", err)}
	}
	if summary.Extracted == 0 {
		logger.Warn("run extracted no records", zap.Int("pages", summary.Pages))
	}
	logger.Info("run finished",
		zap.Int("pages", summary.Pages),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped_missing_context", summary.SkippedMissingContext),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("persisted", summary.Persisted),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	return summary, nil
}

func (p *Pipeline[R]) dedupKey(rec R) string {
	if p.DedupBy == nil {
		return ""
	}
	return p.DedupBy(rec)
}
