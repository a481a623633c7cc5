package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type product struct {
	URL   string
	Title string
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]product
	failOn  int
}

func (s *memorySink) InsertBatch(_ context.Context, records []product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		return errors.New("db down")
	}
	s.batches = append(s.batches, append([]product(nil), records...))
	return nil
}

func (s *memorySink) all() []product {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []product
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func byURL(p product) string { return p.URL }

// fixture maps page URL to the records found on it.
func fixture(pages map[string][]product) batch.Worker[product] {
	return func(_ context.Context, item crawler.WorkItem) ([]product, error) {
		recs, ok := pages[item.URL]
		if !ok {
			return nil, &crawler.TransportError{URL: item.URL, Err: errors.New("connection refused")}
		}
		return recs, nil
	}
}

func TestRunPaginatedCategoryWithDuplicate(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink: sink,
		Discover: func(_ context.Context, seeds []crawler.WorkItem) ([]crawler.WorkItem, error) {
			out := append([]crawler.WorkItem(nil), seeds...)
			return append(out, crawler.NewWorkItem(seeds[0].URL+"?page=2", seeds[0].Context)), nil
		},
		Extract: fixture(map[string][]product{
			"https://upack.kz/catA": {{URL: "/p/1"}, {URL: "/p/2"}, {URL: "/p/3"}},
			"https://upack.kz/catA?page=2": {{URL: "/p/3"}, {URL: "/p/4"}},
		}),
		DedupBy:     byURL,
		Concurrency: 2,
		Threshold:   500,
		Target:      "products",
	}

	summary, err := p.Run(context.Background(), crawler.WorkItems("https://upack.kz/catA"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Seeds)
	require.Equal(t, 2, summary.Pages)
	require.Equal(t, 5, summary.Extracted)
	require.Equal(t, 1, summary.Duplicates)
	require.Equal(t, 4, summary.Persisted)
	require.Equal(t, 1, summary.Flushes)
	require.Len(t, sink.all(), 4)
}

func TestRunDeduplicatesFirstSeenWins(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink: sink,
		Extract: fixture(map[string][]product{
			"https://bestpack.kz/c": {
				{URL: "A", Title: "first"},
				{URL: "B"},
				{URL: "A", Title: "second"},
				{URL: "C"},
			},
		}),
		DedupBy: byURL,
	}

	_, err := p.Run(context.Background(), crawler.WorkItems("https://bestpack.kz/c"))
	require.NoError(t, err)

	got := sink.all()
	require.Equal(t, []string{"A", "B", "C"}, []string{got[0].URL, got[1].URL, got[2].URL})
	require.Equal(t, "first", got[0].Title)
}

func TestRunKeepsRecordsWithoutIdentity(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink:    sink,
		Extract: fixture(map[string][]product{"u": {{URL: ""}, {URL: ""}}}),
		DedupBy: byURL,
	}
	summary, err := p.Run(context.Background(), crawler.WorkItems("u"))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Persisted)
	require.Zero(t, summary.Duplicates)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	pages := map[string][]product{
		"a": {{URL: "1"}, {URL: "2"}},
		"b": {{URL: "2"}, {URL: "3"}},
		"c": {{URL: "4"}},
	}
	run := func() []product {
		sink := &memorySink{}
		p := &Pipeline[product]{Sink: sink, Extract: fixture(pages), DedupBy: byURL, Concurrency: 1, Threshold: 2}
		_, err := p.Run(context.Background(), crawler.WorkItems("a", "b", "c"))
		require.NoError(t, err)
		return sink.all()
	}
	require.Equal(t, run(), run())
}

func TestRunSkipsFailedItem(t *testing.T) {
	t.Parallel()

	pages := map[string][]product{}
	var seeds []crawler.WorkItem
	for _, u := range []string{"1", "2", "3", "4", "5"} {
		seeds = append(seeds, crawler.NewWorkItem(u, nil))
		if u != "3" {
			pages[u] = []product{{URL: "/p/" + u}}
		}
	}

	sink := &memorySink{}
	p := &Pipeline[product]{Sink: sink, Extract: fixture(pages), DedupBy: byURL, Concurrency: 2}
	summary, err := p.Run(context.Background(), seeds)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 4, summary.Persisted)
}

func TestRunCountsMissingContext(t *testing.T) {
	t.Parallel()

	known := map[string]int{"CUPS": 1}
	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink: sink,
		Extract: func(_ context.Context, item crawler.WorkItem) ([]product, error) {
			name, _ := item.Value("category")
			if _, ok := known[name]; !ok {
				return nil, &crawler.ContextLookupError{URL: item.URL, Key: "category", Value: name}
			}
			return []product{{URL: item.URL}}, nil
		},
	}
	summary, err := p.Run(context.Background(), []crawler.WorkItem{
		crawler.NewWorkItem("a", map[string]string{"category": "CUPS"}),
		crawler.NewWorkItem("b", map[string]string{"category": "LIDS"}),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.SkippedMissingContext)
	require.Zero(t, summary.Failed)
	require.Equal(t, 1, summary.Persisted)
}

func TestRunEmptySeeds(t *testing.T) {
	t.Parallel()

	p := &Pipeline[product]{}
	summary, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, summary.Pages)
	require.Zero(t, summary.Persisted)
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("pagination unreachable")
	p := &Pipeline[product]{
		Sink:    &memorySink{},
		Extract: fixture(nil),
		Discover: func(context.Context, []crawler.WorkItem) ([]crawler.WorkItem, error) {
			return nil, boom
		},
	}
	_, err := p.Run(context.Background(), crawler.WorkItems("a"))
	require.ErrorIs(t, err, boom)
}

func TestRunPersistenceFailureKeepsPartialProgress(t *testing.T) {
	t.Parallel()

	pages := map[string][]product{
		"a": {{URL: "1"}, {URL: "2"}},
		"b": {{URL: "3"}, {URL: "4"}},
		"c": {{URL: "5"}, {URL: "6"}},
	}
	sink := &memorySink{failOn: 2}
	var extracted []string
	var mu sync.Mutex
	p := &Pipeline[product]{
		Sink: sink,
		Extract: func(ctx context.Context, item crawler.WorkItem) ([]product, error) {
			mu.Lock()
			extracted = append(extracted, item.URL)
			mu.Unlock()
			return fixture(pages)(ctx, item)
		},
		DedupBy:     byURL,
		Concurrency: 1,
		Threshold:   2,
	}

	summary, err := p.Run(context.Background(), crawler.WorkItems("a", "b", "c"))
	require.Equal(t, crawler.KindPersistence, crawler.Classify(err))
	require.Equal(t, 2, summary.Persisted)
	require.Equal(t, 1, summary.Flushes)
	require.Len(t, sink.all(), 2)
	require.Equal(t, "a,b", strings.Join(extracted, ","))
}

func TestSummaryAdd(t *testing.T) {
	t.Parallel()

	var total Summary
	total.Add(Summary{Pages: 2, Persisted: 3})
	total.Add(Summary{Pages: 1, Persisted: 1, Duplicates: 1})
	require.Equal(t, 3, total.Pages)
	require.Equal(t, 4, total.Persisted)
	require.Equal(t, 1, total.Duplicates)
}

func TestRunCanceledMidRunFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink: sink,
		Extract: func(_ context.Context, item crawler.WorkItem) ([]product, error) {
			calls++
			cancel()
			return []product{{URL: item.URL}}, nil
		},
		DedupBy:     byURL,
		Concurrency: 1,
		Threshold:   500,
	}

	summary, err := p.Run(ctx, crawler.WorkItems("a", "b", "c", "d"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, crawler.KindTransport, crawler.Classify(err))
	require.Equal(t, 1, calls)
	require.Equal(t, 4, summary.Pages)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 3, summary.Failed)
	require.Equal(t, summary.Pages, summary.Succeeded+summary.Failed+summary.SkippedMissingContext)
	require.Equal(t, 1, summary.Persisted)
	require.Len(t, sink.all(), 1)
}

func TestRunDeadlineExpiresBetweenWindows(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sink := &memorySink{}
	p := &Pipeline[product]{
		Sink: sink,
		Extract: func(ctx context.Context, item crawler.WorkItem) ([]product, error) {
			<-ctx.Done()
			return []product{{URL: item.URL}}, nil
		},
		DedupBy:     byURL,
		Concurrency: 2,
	}

	summary, err := p.Run(ctx, crawler.WorkItems("a", "b", "c", "d", "e"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 5, summary.Pages)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 3, summary.Failed)
	require.Equal(t, 2, summary.Persisted)
}
