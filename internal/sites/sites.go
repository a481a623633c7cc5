// Package sites holds the per-site crawl strategies and the plumbing they
// share: dependencies, table bindings and the site registry.
package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/flush"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
)

// ErrUnknownSite is returned for names missing from a Registry.
var ErrUnknownSite = errors.New("unknown site")

// Site crawls one catalog end to end.
type Site interface {
	Name() string
	Run(ctx context.Context, deps Deps) (pipeline.Summary, error)
}

// Hooks observe a site run. Both are optional.
type Hooks struct {
	// Window is called after each fetch window of a stage.
	Window func(stage string, results, failed int)
	// Flush is called after each successful insert into target.
	Flush func(target string, records int)
}

// Deps are the collaborators a site run needs.
type Deps struct {
	// HTML fetches catalog pages.
	HTML crawler.Fetcher
	// API fetches JSON endpoints. Falls back to HTML.
	API crawler.Fetcher
	// Images fetches picture bytes. Falls back to HTML.
	Images  crawler.Fetcher
	Sinks   crawler.TableSinks
	Sources crawler.SourceLookup
	Files   crawler.FileStore
	Logger  *zap.Logger
	Hooks   Hooks

	Concurrency int
	Threshold   int
	Now         func() time.Time
}

// Validate reports missing required collaborators.
func (d Deps) Validate() error {
	var missing []string
	if d.HTML == nil {
		missing = append(missing, "html fetcher")
	}
	if d.Sinks == nil {
		missing = append(missing, "table sinks")
	}
	if d.Sources == nil {
		missing = append(missing, "source lookup")
	}
	if d.Files == nil {
		missing = append(missing, "file store")
	}
	if len(missing) > 0 {
		return fmt.Errorf("site deps missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// APIFetcher returns the JSON fetcher.
func (d Deps) APIFetcher() crawler.Fetcher {
	if d.API != nil {
		return d.API
	}
	return d.HTML
}

// ImageFetcher returns the picture fetcher.
func (d Deps) ImageFetcher() crawler.Fetcher {
	if d.Images != nil {
		return d.Images
	}
	return d.HTML
}

// Workers is the fetch window size, defaulting like the pipeline does.
func (d Deps) Workers() int {
	if d.Concurrency < 1 {
		return pipeline.DefaultConcurrency
	}
	return d.Concurrency
}

// Log returns the configured logger or a no-op one.
func (d Deps) Log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// NewPipeline builds a pipeline stage wired to d's limits, logger and hooks.
func NewPipeline[R any](d Deps, stage string, sink crawler.Inserter[R], extract batch.Worker[R]) *pipeline.Pipeline[R] {
	logger := d.Log().With(zap.String("stage", stage))
	p := &pipeline.Pipeline[R]{
		Runner:      &batch.Runner[R]{Logger: logger},
		Sink:        sink,
		Extract:     extract,
		Concurrency: d.Workers(),
		Threshold:   d.Threshold,
		Target:      stage,
		Logger:      logger,
		Now:         d.Now,
	}
	if hook := d.Hooks.Window; hook != nil {
		p.Runner.OnWindow = func(results []batch.Result[R]) {
			failed := 0
			for _, res := range results {
				if res.Failed() {
					failed++
				}
			}
			hook(stage, len(results), failed)
		}
	}
	if hook := d.Hooks.Flush; hook != nil {
		p.OnFlush = func(records int) { hook(stage, records) }
	}
	return p
}

// Persist writes records to sink through an accumulator and returns how
// many were stored. Used for one-shot stages such as category trees.
func Persist[R any](ctx context.Context, d Deps, target string, sink crawler.Inserter[R], records []R) (int, error) {
	acc := flush.New(sink, target, d.Threshold, d.Log())
	if hook := d.Hooks.Flush; hook != nil {
		acc.OnFlush = func(n int) { hook(target, n) }
	}
	for _, rec := range records {
		acc.Offer(rec)
		if err := acc.MaybeFlush(ctx); err != nil {
			return acc.Persisted(), err
		}
	}
	if err := acc.Flush(ctx); err != nil {
		return acc.Persisted(), err
	}
	return acc.Persisted(), nil
}

// Collect returns an inserter that appends into *dst. Stages that only
// gather URLs for a later stage use it as their sink.
func Collect[R any](dst *[]R) crawler.Inserter[R] {
	return crawler.InserterFunc[R](func(_ context.Context, records []R) error {
		*dst = append(*dst, records...)
		return nil
	})
}

// Registry maps site names to strategies. Lookups ignore case.
type Registry struct {
	sites map[string]Site
}

// NewRegistry registers sites by Name.
func NewRegistry(sites ...Site) *Registry {
	r := &Registry{sites: make(map[string]Site, len(sites))}
	for _, s := range sites {
		r.sites[strings.ToLower(s.Name())] = s
	}
	return r
}

// Lookup finds a site by name.
func (r *Registry) Lookup(name string) (Site, error) {
	s, ok := r.sites[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return s, nil
}

// Names lists registered sites in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.sites))
	for _, s := range r.sites {
		out = append(out, s.Name())
	}
	sort.Strings(out)
	return out
}

// Only returns a registry restricted to names. An empty list keeps every site.
func (r *Registry) Only(names []string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	out := &Registry{sites: make(map[string]Site, len(names))}
	for _, name := range names {
		s, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		out.sites[strings.ToLower(s.Name())] = s
	}
	return out, nil
}
