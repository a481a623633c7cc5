package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config sizes the Hub. Zero values fall back to the package defaults;
// BufferSize and BatchSize normally come from the progress config section.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int
	// BatchSize delivers a batch as soon as it holds this many events.
	BatchSize int
	// FlushEvery delivers a partial batch after this long.
	FlushEvery time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// Parent is the context sink calls derive from. It outlives any one run.
	Parent context.Context
	Logger *zap.Logger
}

const (
	defaultBufferSize  = 4096
	defaultBatchSize   = 1000
	defaultFlushEvery  = 500 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
	dropWarnEvery      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Parent == nil {
		c.Parent = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects run events from every worker and delivers them to the sinks
// in batches. Emit never blocks a crawl: when the buffer is full the event
// is dropped and counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closing   atomic.Bool
	dropped   atomic.Int64
	unwarned  atomic.Int64
	lastWarn  atomic.Int64
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts delivering to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger.Named("progress"),
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events and events emitted after Close are
// discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid run event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.drop()
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	h.unwarned.Add(1)
	now := time.Now().UnixNano()
	last := h.lastWarn.Load()
	if now-last < dropWarnEvery.Nanoseconds() || !h.lastWarn.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("run events dropped, progress buffer full",
		zap.Int64("dropped", h.unwarned.Swap(0)),
		zap.Int("buffer_size", cap(h.events)),
	)
}

// Dropped reports how many events were lost to a full buffer.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Close stops accepting events, delivers what is queued, closes the sinks
// and waits for that to finish or for ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		case <-ticker.C:
			pending = h.deliver(pending)
		case <-h.quit:
			h.drain(pending)
			return
		}
	}
}

// drain delivers everything still queued, then closes the sinks.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.BatchSize {
				pending = h.deliver(pending)
			}
		default:
			h.deliver(pending)
			h.closeSinks()
			return
		}
	}
}

// deliver hands batch to every sink concurrently and returns the emptied
// buffer for reuse. A failing sink does not affect the others.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	snapshot := append([]Event(nil), batch...)
	errs := make([]error, len(h.sinks))
	var g errgroup.Group
	for i, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.Parent, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, snapshot); err != nil {
				errs[i] = fmt.Errorf("sink %T: %w", sink, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("run events not delivered", zap.Int("events", len(snapshot)), zap.Error(err))
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
