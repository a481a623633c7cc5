package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	pubmemory "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type fakeSite struct {
	name string
	run  func(ctx context.Context, d sites.Deps) (pipeline.Summary, error)
}

func (f fakeSite) Name() string { return f.name }

func (f fakeSite) Run(ctx context.Context, d sites.Deps) (pipeline.Summary, error) {
	return f.run(ctx, d)
}

type recorder struct{ events []progress.Event }

func (r *recorder) Emit(evt progress.Event) { r.events = append(r.events, evt) }

func (r *recorder) stages() []progress.Stage {
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type harness struct {
	svc    *Service
	runs   *memory.RunStore
	pub    *pubmemory.Publisher
	events *recorder
}

func newHarness(t *testing.T, cfg Config, site sites.Site) harness {
	t.Helper()
	h := harness{
		runs:   memory.NewRunStore(),
		pub:    pubmemory.New(),
		events: &recorder{},
	}
	clock := system.Fixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	h.svc = New(sites.NewRegistry(site), sites.Deps{}, h.runs, h.pub, uuid.New(), h.events, clock, cfg, nil)
	return h
}

func TestRunSucceeds(t *testing.T) {
	t.Parallel()

	site := fakeSite{name: "Upack", run: func(_ context.Context, d sites.Deps) (pipeline.Summary, error) {
		require.NotNil(t, d.Logger)
		require.NotNil(t, d.Now)
		d.Hooks.Window("upack_listing", 3, 1)
		d.Hooks.Flush("upack_products", 2)
		return pipeline.Summary{Target: "Upack", Pages: 3, Failed: 1, Duplicates: 4, Persisted: 2}, nil
	}}
	h := newHarness(t, Config{Topic: "runs"}, site)

	run, sum, err := h.svc.Run(context.Background(), "upack")
	require.NoError(t, err)
	require.Equal(t, 2, sum.Persisted)
	require.Equal(t, "Upack", run.Site)

	stored, err := h.svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusSucceeded, stored.Status)
	require.Equal(t, crawler.RunCounters{Pages: 3, Failed: 1, Duplicates: 4, Persisted: 2}, stored.Counters)
	require.NotNil(t, stored.Finished)

	require.Equal(t, []progress.Stage{
		progress.StageRunStart, progress.StageFetchDone, progress.StageFlush, progress.StageRunDone,
	}, h.events.stages())
	for _, evt := range h.events.events {
		require.NoError(t, evt.Validate())
	}

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "runs", msgs[0].Topic)
	report := msgs[0].Payload.(Report)
	require.Equal(t, run.ID, report.RunID)
	require.Equal(t, crawler.RunStatusSucceeded, report.Status)
	require.Equal(t, "Upack", report.Attributes()["site"])
}

func TestRunFailureIsRecorded(t *testing.T) {
	t.Parallel()

	boom := &crawler.PersistenceError{Target: "upack_products", Err: errors.New("disk full")}
	site := fakeSite{name: "Upack", run: func(context.Context, sites.Deps) (pipeline.Summary, error) {
		return pipeline.Summary{Persisted: 500}, boom
	}}
	h := newHarness(t, Config{Topic: "runs"}, site)

	run, sum, err := h.svc.Run(context.Background(), "Upack")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 500, sum.Persisted)

	stored, err := h.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, stored.Status)
	require.Contains(t, stored.ErrorText, "disk full")
	require.Equal(t, 500, stored.Counters.Persisted)

	require.Equal(t, progress.StageRunError, h.events.events[len(h.events.events)-1].Stage)
	require.Equal(t, crawler.RunStatusFailed, h.pub.Messages()[0].Payload.(Report).Status)
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	site := fakeSite{name: "Pulser", run: func(context.Context, sites.Deps) (pipeline.Summary, error) {
		panic("nil map")
	}}
	h := newHarness(t, Config{}, site)

	run, _, err := h.svc.Run(context.Background(), "pulser")
	require.ErrorContains(t, err, "panicked")
	stored, err := h.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, stored.Status)
	require.Empty(t, h.pub.Messages())
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	site := fakeSite{name: "Bestpack", run: func(ctx context.Context, _ sites.Deps) (pipeline.Summary, error) {
		<-ctx.Done()
		return pipeline.Summary{}, ctx.Err()
	}}
	h := newHarness(t, Config{RunTimeout: 10 * time.Millisecond}, site)

	run, _, err := h.svc.Run(context.Background(), "bestpack")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	stored, err := h.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusFailed, stored.Status)
}

func TestSubmitUnknownSite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, fakeSite{name: "Upack"})
	_, err := h.svc.Submit(context.Background(), "ozon")
	require.ErrorIs(t, err, sites.ErrUnknownSite)
	require.Equal(t, []string{"Upack"}, h.svc.Sites())

	_, err = h.svc.Execute(context.Background(), "not-a-uuid", "Upack")
	require.Error(t, err)

	_, err = h.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrRunNotFound)
}
