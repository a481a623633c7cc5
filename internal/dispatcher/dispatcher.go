// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// Submitter records a queued run for a site.
type Submitter interface {
	Submit(ctx context.Context, site string) (crawler.Run, error)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue     crawler.Queue
	submitter Submitter
	runs      crawler.RunStore
	workers   []*worker.Worker
}

// New creates a Dispatcher. runs is used to fail runs that could not be
// enqueued and may be nil.
func New(queue crawler.Queue, submitter Submitter, runs crawler.RunStore, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:     queue,
		submitter: submitter,
		runs:      runs,
		workers:   workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit stores a queued run for site and hands it to the workers.
func (d *Dispatcher) Submit(ctx context.Context, site string) (crawler.Run, error) {
	if d.submitter == nil {
		return crawler.Run{}, errors.New("dispatcher has no submitter")
	}
	run, err := d.submitter.Submit(ctx, site)
	if err != nil {
		return crawler.Run{}, err
	}
	item := crawler.QueueItem{RunID: run.ID, Site: run.Site, Submitted: run.Submitted.Unix()}
	if err := d.Enqueue(ctx, item); err != nil {
		if d.runs != nil {
			_ = d.runs.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, crawler.RunStatusFailed, err.Error(), crawler.RunCounters{})
		}
		return crawler.Run{}, err
	}
	return run, nil
}
