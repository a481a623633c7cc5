package sites

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
)

// Table maps records of type R onto a named destination table.
type Table[R any] struct {
	Name    string
	Columns []string
	Values  func(R) []any
}

// Bind resolves t against sinks and returns a typed inserter.
func Bind[R any](sinks crawler.TableSinks, t Table[R]) (crawler.Inserter[R], error) {
	if sinks == nil {
		return nil, errors.New("table sinks are required")
	}
	rows, err := sinks.Table(t.Name, t.Columns)
	if err != nil {
		return nil, fmt.Errorf("bind table %s: %w", t.Name, err)
	}
	return crawler.InserterFunc[R](func(ctx context.Context, records []R) error {
		if len(records) == 0 {
			return nil
		}
		out := make([]crawler.Row, len(records))
		for i, rec := range records {
			out[i] = t.Values(rec)
		}
		return rows.InsertBatch(ctx, out)
	}), nil
}

// Step is one inserter of a Sequence.
type Step[R any] func(ctx context.Context, records []R) error

// Sequence runs steps in order and stops at the first failure. Products
// are written before their characteristics and pictures this way.
func Sequence[R any](steps ...Step[R]) crawler.Inserter[R] {
	return crawler.InserterFunc[R](func(ctx context.Context, records []R) error {
		for _, step := range steps {
			if err := step(ctx, records); err != nil {
				return err
			}
		}
		return nil
	})
}

// Each flattens the children of every record into one insert.
func Each[R, C any](sink crawler.Inserter[C], children func(R) []C) Step[R] {
	return func(ctx context.Context, records []R) error {
		var out []C
		for _, rec := range records {
			out = append(out, children(rec)...)
		}
		if len(out) == 0 {
			return nil
		}
		return sink.InsertBatch(ctx, out)
	}
}

// Download stores the images of every record and inserts the resulting
// pictures. As a Sequence step it only sees records that survived
// deduplication. images returns the product key and image URLs of a
// record; at most concurrency records download at a time.
func Download[R any](dl *pictures.Downloader, sink crawler.Inserter[pictures.Picture], images func(R) (string, []string), concurrency int) Step[R] {
	if concurrency < 1 {
		concurrency = 1
	}
	return func(ctx context.Context, records []R) error {
		found := make([][]pictures.Picture, len(records))
		var g errgroup.Group
		g.SetLimit(concurrency)
		for i, rec := range records {
			key, urls := images(rec)
			if len(urls) == 0 {
				continue
			}
			g.Go(func() error {
				found[i] = dl.DownloadAll(ctx, key, urls)
				return nil
			})
		}
		_ = g.Wait()

		var out []pictures.Picture
		for _, pics := range found {
			out = append(out, pics...)
		}
		if len(out) == 0 {
			return nil
		}
		return sink.InsertBatch(ctx, out)
	}
}
