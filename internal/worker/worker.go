// Package worker implements the run execution loop behind the queue.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
)

// Executor runs one submitted site run.
type Executor interface {
	Execute(ctx context.Context, runID, site string) (pipeline.Summary, error)
}

// Config controls Worker behavior.
type Config struct {
	// MaxAttempts bounds how often a run whose seeds could not be fetched is
	// retried. Values below 1 mean a single attempt.
	MaxAttempts int
	// RetryDelay is waited before a failed run is re-enqueued.
	RetryDelay time.Duration
}

// Worker consumes queue items and executes the runs they name.
type Worker struct {
	queue  crawler.Queue
	exec   Executor
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue crawler.Queue, exec Executor, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{queue: queue, exec: exec, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID), zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	if w.exec == nil {
		w.logger.Error("no executor configured", zap.String("run_id", item.RunID))
		return
	}
	summary, err := w.exec.Execute(ctx, item.RunID, item.Site)
	if err == nil {
		w.logger.Debug("run processed", zap.String("run_id", item.RunID), zap.Int("persisted", summary.Persisted))
		return
	}
	if !w.shouldRetry(ctx, item, summary, err) {
		return
	}
	if w.cfg.RetryDelay > 0 {
		timer := time.NewTimer(w.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	item.Attempt++
	if err := w.queue.Enqueue(ctx, item); err != nil {
		w.logger.Error("re-enqueue run failed", zap.String("run_id", item.RunID), zap.Error(err))
		return
	}
	w.logger.Info("run re-enqueued",
		zap.String("run_id", item.RunID),
		zap.String("site", item.Site),
		zap.Int("attempt", item.Attempt))
}

// shouldRetry allows another attempt only when nothing was written: a run
// that failed on transport before its first flush is safe to repeat.
func (w *Worker) shouldRetry(ctx context.Context, item crawler.QueueItem, summary pipeline.Summary, err error) bool {
	if ctx.Err() != nil || item.Attempt+1 >= w.cfg.MaxAttempts || summary.Persisted > 0 {
		return false
	}
	switch crawler.Classify(err) {
	case crawler.KindTransport, crawler.KindHTTPStatus:
		return true
	default:
		return false
	}
}
