package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started/completed/running and per-site window and flush counters.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	windowItems  *prometheus.CounterVec
	windowFailed *prometheus.CounterVec
	flushedRows  *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_started_total",
			Help: "Site runs that have started.",
		}, []string{"site"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_completed_total",
			Help: "Site runs completed partitioned by result.",
		}, []string{"site", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_runs_running",
			Help: "Current number of running site runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{5, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"site", "result"}),
		windowItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_window_items_total",
			Help: "Work items processed by fetch windows per site and stage.",
		}, []string{"site", "target"}),
		windowFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_window_failed_total",
			Help: "Work items that produced no records per site and stage.",
		}, []string{"site", "target"}),
		flushedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_flushed_rows_total",
			Help: "Rows flushed to storage per site and table.",
		}, []string{"site", "target"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.windowItems,
		s.windowFailed,
		s.flushedRows,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(site).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.complete(evt, site, "success")
	case progress.StageRunError:
		s.complete(evt, site, "error")
	case progress.StageFetchDone:
		s.windowItems.WithLabelValues(site, evt.Target).Add(float64(evt.Records))
		if evt.Failed > 0 {
			s.windowFailed.WithLabelValues(site, evt.Target).Add(float64(evt.Failed))
		}
	case progress.StageFlush:
		s.flushedRows.WithLabelValues(site, evt.Target).Add(float64(evt.Records))
	}
}

func (s *PrometheusSink) complete(evt progress.Event, site, result string) {
	s.runsCompleted.WithLabelValues(site, result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(site, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
