// Package upack crawls the upack.kz catalog: the category tree comes from
// the JSON catalog API, products and pictures from the HTML storefront.
package upack

import (
	"context"
	"fmt"
	"strings"
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
	Name = "Upack"
	// DefaultBaseURL is the production storefront.
	DefaultBaseURL = "https://upack.kz"

	catalogPath = "/api/v1/catalog/"
	firstPage   = "page=1"
	pageQuery   = firstPage + "&per_page=48"
)

// Site implements sites.Site for Upack.
type Site struct {
	BaseURL string
}

// New returns the production site.
func New() *Site {
	return &Site{BaseURL: DefaultBaseURL}
}

// Name implements sites.Site.
func (s *Site) Name() string { return Name }

// Run loads the category tree, walks every listing page and stores each
// product with its characteristics and pictures.
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

	categories, err := s.fetchCategories(ctx, d.APIFetcher())
	if err != nil {
		return total, fmt.Errorf("upack categories: %w", err)
	}
	if len(categories) == 0 {
		return total, fmt.Errorf("upack categories: %w", crawler.ErrNoSeeds)
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
	logger.Info("categories stored", zap.Int("count", stored))

	var productURLs []string
	listing := sites.NewPipeline(d, "upack_listing", sites.Collect(&productURLs), s.listProducts(d.HTML))
	listing.Discover = s.discoverPages(d)
	listing.DedupBy = crawler.URLKey
	sum, err := listing.Run(ctx, Seeds(categories))
	total.Add(sum)
	if err != nil {
		return total, err
	}
	if len(productURLs) == 0 {
		return total, fmt.Errorf("upack product urls: %w", crawler.ErrNoSeeds)
	}

	downloader := pictures.New(d.ImageFetcher(), d.Files, src.ID, logger)
	sink, err := bundleSink(d, downloader)
	if err != nil {
		return total, err
	}
	products := sites.NewPipeline(d, productTable.Name, sink, s.parseProduct(d.HTML, NameIndex(categories)))
	products.DedupBy = func(b Bundle) string { return b.Product.SourceCode }
	sum, err = products.Run(ctx, crawler.WorkItems(productURLs...))
	total.Add(sum)
	total.Finished = now()
	return total, err
}

// discoverPages adds pages 2..N for every category whose pagination shows
// N pages. Categories whose first page fails keep only the seed.
func (s *Site) discoverPages(d sites.Deps) pipeline.Discoverer {
	return func(ctx context.Context, seeds []crawler.WorkItem) ([]crawler.WorkItem, error) {
		runner := batch.Runner[crawler.WorkItem]{Logger: d.Log()}
		results := runner.Run(ctx, seeds, func(ctx context.Context, item crawler.WorkItem) ([]crawler.WorkItem, error) {
			payload, err := d.HTML.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
			if err != nil {
				return nil, err
			}
			doc, err := payload.Document()
			if err != nil {
				return nil, err
			}
			last, ok := LastPage(doc.Find("div.pagination > div > a:last-child").First().Text())
			if !ok {
				return nil, nil
			}
			return PageURLs(item, last), nil
		}, d.Workers())

		pages := append([]crawler.WorkItem(nil), seeds...)
		for _, res := range results {
			pages = append(pages, res.Records...)
		}
		return pages, nil
	}
}

// PageURLs rewrites the first-page query of item for pages 2..last.
func PageURLs(item crawler.WorkItem, last int) []crawler.WorkItem {
	var out []crawler.WorkItem
	for n := 2; n <= last; n++ {
		out = append(out, crawler.NewWorkItem(strings.Replace(item.URL, firstPage, fmt.Sprintf("page=%d", n), 1), item.Context))
	}
	return out
}

// LastPage parses a pagination label that must be all digits.
func LastPage(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.Trim(text, "0123456789") != "" {
		return 0, false
	}
	return crawler.Digits(text)
}

func (s *Site) listProducts(fetcher crawler.Fetcher) batch.Worker[string] {
	return func(ctx context.Context, item crawler.WorkItem) ([]string, error) {
		payload, err := fetcher.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
		if err != nil {
			return nil, err
		}
		doc, err := payload.Document()
		if err != nil {
			return nil, err
		}
		return ProductLinks(doc, s.BaseURL, item.URL)
	}
}
