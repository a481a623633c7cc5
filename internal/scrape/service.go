// Package scrape executes site runs: it records run status, reports
// progress and publishes the final summary.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

// Config controls Service behavior.
type Config struct {
	// Topic receives one Report per finished run. Empty disables publishing.
	Topic string
	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration
}

// Report is the message published when a run finishes.
type Report struct {
	RunID    string            `json:"run_id"`
	Site     string            `json:"site"`
	Status   crawler.RunStatus `json:"status"`
	Error    string            `json:"error,omitempty"`
	Summary  pipeline.Summary  `json:"summary"`
	Finished time.Time         `json:"finished_at"`
}

// Attributes labels the published message.
func (r Report) Attributes() map[string]string {
	return map[string]string{"run_id": r.RunID, "site": r.Site, "status": string(r.Status)}
}

// Service submits and executes site runs.
type Service struct {
	registry  *sites.Registry
	deps      sites.Deps
	runs      crawler.RunStore
	publisher crawler.Publisher
	ids       crawler.IDGenerator
	emitter   progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Service. deps is the template every run starts from;
// its Hooks are replaced per run. publisher and emitter may be nil.
func New(
	registry *sites.Registry,
	deps sites.Deps,
	runs crawler.RunStore,
	publisher crawler.Publisher,
	ids crawler.IDGenerator,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:  registry,
		deps:      deps,
		runs:      runs,
		publisher: publisher,
		ids:       ids,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("scrape"),
	}
}

// Sites lists the runnable site names.
func (s *Service) Sites() []string {
	return s.registry.Names()
}

// Submit validates the site name and stores a queued run.
func (s *Service) Submit(ctx context.Context, siteName string) (crawler.Run, error) {
	site, err := s.registry.Lookup(siteName)
	if err != nil {
		return crawler.Run{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("new run id: %w", err)
	}
	run := crawler.Run{
		ID:        id,
		Site:      site.Name(),
		Status:    crawler.RunStatusQueued,
		Submitted: s.clock.Now(),
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Run submits and executes a run in the caller's goroutine.
func (s *Service) Run(ctx context.Context, siteName string) (crawler.Run, pipeline.Summary, error) {
	run, err := s.Submit(ctx, siteName)
	if err != nil {
		return crawler.Run{}, pipeline.Summary{}, err
	}
	summary, err := s.Execute(ctx, run.ID, run.Site)
	return run, summary, err
}

// Execute runs a submitted run to completion and records the outcome.
// The run store and publisher are updated even when ctx was canceled.
func (s *Service) Execute(ctx context.Context, runID, siteName string) (pipeline.Summary, error) {
	site, err := s.registry.Lookup(siteName)
	if err != nil {
		return pipeline.Summary{}, err
	}
	binID, err := progress.ParseRunID(runID)
	if err != nil {
		return pipeline.Summary{}, err
	}
	logger := logging.ForRun(s.logger, runID, site.Name())

	if err := s.runs.UpdateRunStatus(ctx, runID, crawler.RunStatusRunning, "", crawler.RunCounters{}); err != nil {
		return pipeline.Summary{}, fmt.Errorf("mark run running: %w", err)
	}
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	reporter := progress.NewRunReporter(s.emitter, binID, site.Name(), s.clock.Now)
	reporter.Start()
	logger.Info("run started")

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	deps := s.deps
	deps.Logger = logger
	deps.Hooks = sites.Hooks{Window: reporter.Window, Flush: reporter.Flush}
	if deps.Now == nil {
		deps.Now = s.clock.Now
	}
	summary, runErr := s.safeRun(runCtx, site, deps)

	status := crawler.RunStatusSucceeded
	errText := ""
	if runErr != nil {
		status = crawler.RunStatusFailed
		errText = runErr.Error()
		reporter.Error(runErr)
		logger.Error("run failed",
			zap.String("kind", string(crawler.Classify(runErr))),
			zap.Int("persisted", summary.Persisted),
			zap.Error(runErr))
	} else {
		reporter.Done(summary.Persisted)
		logger.Info("run finished",
			zap.Int("pages", summary.Pages),
			zap.Int("failed", summary.Failed),
			zap.Int("duplicates", summary.Duplicates),
			zap.Int("persisted", summary.Persisted))
	}

	finalCtx := context.WithoutCancel(ctx)
	if err := s.runs.UpdateRunStatus(finalCtx, runID, status, errText, Counters(summary)); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("mark run %s: %w", status, err))
	}
	s.publish(finalCtx, logger, Report{
		RunID:    runID,
		Site:     site.Name(),
		Status:   status,
		Error:    errText,
		Summary:  summary,
		Finished: s.clock.Now(),
	})
	return summary, runErr
}

// safeRun keeps a panicking site from taking the worker down with it.
func (s *Service) safeRun(ctx context.Context, site sites.Site, deps sites.Deps) (summary pipeline.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("site %s panicked: %v", site.Name(), r)
		}
	}()
	return site.Run(ctx, deps)
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, report Report) {
	if s.cfg.Topic == "" || s.publisher == nil {
		return
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, report)
	if err != nil {
		logger.Warn("publish run report failed", zap.Error(err))
		return
	}
	logger.Debug("run report published", zap.String("message_id", id))
}

// Get returns a stored run.
func (s *Service) Get(ctx context.Context, runID string) (crawler.Run, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Counters projects a summary onto the stored run counters.
func Counters(s pipeline.Summary) crawler.RunCounters {
	return crawler.RunCounters{
		Pages:                 s.Pages,
		Failed:                s.Failed,
		SkippedMissingContext: s.SkippedMissingContext,
		Duplicates:            s.Duplicates,
		Persisted:             s.Persisted,
	}
}
