// Package pulser crawls the pulser.kz storefront.
package pulser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

const (
	// Name matches the source row.
	Name = "Pulser"
	// DefaultBaseURL is the production storefront.
	DefaultBaseURL = "https://pulser.kz"
)

// Site implements sites.Site for Pulser.
type Site struct {
	BaseURL string
}

// New returns the production site.
func New() *Site {
	return &Site{BaseURL: DefaultBaseURL}
}

// Name implements sites.Site.
func (s *Site) Name() string { return Name }

// Run stores the navigation category tree, every product card of every
// category, and then characteristics and pictures per product.
func (s *Site) Run(ctx context.Context, d sites.Deps) (pipeline.Summary, error) {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	total := pipeline.Summary{Target: Name, Started: now()}
	if err := d.Validate(); err != nil {
		return total, err
	}
	logger := d.Log().With(zap.String("site", Name))

	src, err := crawler.FindSource(ctx, d.Sources, Name)
	if err != nil {
		return total, err
	}

	payload, err := d.HTML.Fetch(ctx, s.BaseURL+"/", crawler.FetchOptions{RaiseOnStatus: true})
	if err != nil {
		return total, fmt.Errorf("pulser categories: %w", err)
	}
	doc, err := payload.Document()
	if err != nil {
		return total, fmt.Errorf("pulser categories: %w", err)
	}
	categories := ParseCategories(doc)
	seeds := CategoryLinks(doc, s.BaseURL)
	if len(categories) == 0 || len(seeds) == 0 {
		return total, fmt.Errorf("pulser categories: %w", crawler.ErrNoSeeds)
	}
	catSink, err := sites.Bind(d.Sinks, categoryTable)
	if err != nil {
		return total, err
	}
	stored, err := sites.Persist(ctx, d, categoryTable.Name, catSink, categories)
	total.Extracted += len(categories)
	total.Persisted += stored
	if err != nil {
		return total, err
	}
	logger.Info("categories stored", zap.Int("count", stored), zap.Int("listing_seeds", len(seeds)))

	productSink, err := sites.Bind(d.Sinks, productTable)
	if err != nil {
		return total, err
	}
	var stage2 []crawler.WorkItem
	tee := crawler.InserterFunc[Product](func(ctx context.Context, records []Product) error {
		if err := productSink.InsertBatch(ctx, records); err != nil {
			return err
		}
		for _, p := range records {
			stage2 = append(stage2, crawler.NewWorkItem(p.URL, map[string]string{"source_id": strconv.Itoa(p.SourceID)}))
		}
		return nil
	})
	listing := sites.NewPipeline(d, productTable.Name, tee, s.parseListing(d.HTML, NameIndex(categories)))
	listing.DedupBy = func(p Product) string { return strconv.Itoa(p.SourceID) }
	sum, err := listing.Run(ctx, seeds)
	total.Add(sum)
	if err != nil {
		return total, err
	}
	if len(stage2) == 0 {
		return total, fmt.Errorf("pulser product urls: %w", crawler.ErrNoSeeds)
	}

	downloader := pictures.New(d.ImageFetcher(), d.Files, src.ID, logger)
	detailSink, err := detailsSink(d, downloader)
	if err != nil {
		return total, err
	}
	details := sites.NewPipeline(d, characteristicTable.Name, detailSink, s.parseDetails(d.HTML))
	details.DedupBy = func(dt Details) string { return strconv.Itoa(dt.SourceID) }
	sum, err = details.Run(ctx, stage2)
	total.Add(sum)
	total.Finished = now()
	return total, err
}

func (s *Site) parseListing(fetcher crawler.Fetcher, categories map[string]int) batch.Worker[Product] {
	return func(ctx context.Context, item crawler.WorkItem) ([]Product, error) {
		payload, err := fetcher.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
		if err != nil {
			return nil, err
		}
		doc, err := payload.Document()
		if err != nil {
			return nil, err
		}
		return ParseListing(doc, s.BaseURL, item.URL, categories)
	}
}

func (s *Site) parseDetails(fetcher crawler.Fetcher) batch.Worker[Details] {
	return func(ctx context.Context, item crawler.WorkItem) ([]Details, error) {
		payload, err := fetcher.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
		if err != nil {
			return nil, err
		}
		doc, err := payload.Document()
		if err != nil {
			return nil, err
		}
		id, ok := ProductCode(doc)
		if !ok {
			raw, _ := item.Value("source_id")
			if id, ok = crawler.FirstInt(raw); !ok {
				return nil, crawler.Missing(item.URL, "source_id")
			}
		}
		if doc.Find("div.row.no-gutters").Length() == 0 {
			return nil, crawler.Missing(item.URL, "characteristics")
		}
		return []Details{{
			SourceID:        id,
			Characteristics: ParseCharacteristics(doc, id),
			Images:          ImageLinks(doc, s.BaseURL),
		}}, nil
	}
}
