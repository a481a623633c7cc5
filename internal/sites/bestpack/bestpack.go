// Package bestpack crawls the bestpack.kz storefront. Listing cards carry
// the prices; product pages carry characteristics and pictures.
package bestpack

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
	"github.com/JakeFAU/catalog-crawler/internal/pipeline"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

const (
	// Name matches the source row.
	Name = "Bestpack"
	// DefaultBaseURL is the production storefront.
	DefaultBaseURL = "https://bestpack.kz"

	catalogPath = "/products"
	// defaultCity is served without a city prefix.
	defaultCity = "nur-sultan"
)

// Site implements sites.Site for Bestpack.
type Site struct {
	BaseURL string
}

// New returns the production site.
func New() *Site {
	return &Site{BaseURL: DefaultBaseURL}
}

// Name implements sites.Site.
func (s *Site) Name() string { return Name }

// Run stores categories, then every listing card across all cities, then
// the characteristics and pictures of each distinct product.
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

	payload, err := d.HTML.Fetch(ctx, s.BaseURL+catalogPath, crawler.FetchOptions{RaiseOnStatus: true})
	if err != nil {
		return total, fmt.Errorf("bestpack categories: %w", err)
	}
	doc, err := payload.Document()
	if err != nil {
		return total, fmt.Errorf("bestpack categories: %w", err)
	}
	categories := ParseCategories(doc)
	if len(categories) == 0 {
		return total, fmt.Errorf("bestpack categories: %w", crawler.ErrNoSeeds)
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
	seeds := CategoryURLs(s.BaseURL, categories, Cities(doc))
	logger.Info("categories stored", zap.Int("count", stored), zap.Int("listing_seeds", len(seeds)))

	productSink, err := sites.Bind(d.Sinks, productTable)
	if err != nil {
		return total, err
	}
	var stage2 []crawler.WorkItem
	// Only products that were persisted move on to the detail stage.
	tee := crawler.InserterFunc[Product](func(ctx context.Context, records []Product) error {
		if err := productSink.InsertBatch(ctx, records); err != nil {
			return err
		}
		for _, p := range records {
			stage2 = append(stage2, crawler.NewWorkItem(p.URL, map[string]string{"product_url_hash": p.URLHash}))
		}
		return nil
	})
	listing := sites.NewPipeline(d, productTable.Name, tee, s.parseListing(d.HTML, NameIndex(categories)))
	listing.Discover = s.discoverPages(d)
	listing.DedupBy = func(p Product) string { return p.URLHash }
	sum, err := listing.Run(ctx, seeds)
	total.Add(sum)
	if err != nil {
		return total, err
	}
	if len(stage2) == 0 {
		return total, fmt.Errorf("bestpack product urls: %w", crawler.ErrNoSeeds)
	}

	downloader := pictures.New(d.ImageFetcher(), d.Files, src.ID, logger)
	detailSink, err := detailsSink(d, downloader)
	if err != nil {
		return total, err
	}
	details := sites.NewPipeline(d, characteristicTable.Name, detailSink, s.parseDetails(d.HTML))
	details.DedupBy = func(dt Details) string { return dt.URLHash }
	sum, err = details.Run(ctx, stage2)
	total.Add(sum)
	total.Finished = now()
	return total, err
}

// discoverPages appends every distinct pagination link found on the seeds.
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
			var out []crawler.WorkItem
			for _, href := range PageLinks(doc) {
				out = append(out, crawler.NewWorkItem(s.BaseURL+href, item.Context))
			}
			return out, nil
		}, d.Workers())

		pages := append([]crawler.WorkItem(nil), seeds...)
		seen := make(map[string]struct{}, len(seeds))
		for _, p := range seeds {
			seen[p.URL] = struct{}{}
		}
		for _, res := range results {
			for _, p := range res.Records {
				if _, dup := seen[p.URL]; dup {
					continue
				}
				seen[p.URL] = struct{}{}
				pages = append(pages, p)
			}
		}
		return pages, nil
	}
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
		hash, ok := item.Value("product_url_hash")
		if !ok {
			hash = URLHash(URLSuffix(item.URL))
		}
		payload, err := fetcher.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
		if err != nil {
			return nil, err
		}
		doc, err := payload.Document()
		if err != nil {
			return nil, err
		}
		if doc.Find("div.prod_chars_row").Length() == 0 {
			return nil, crawler.Missing(item.URL, "characteristics")
		}
		return []Details{{
			URLHash:         hash,
			Characteristics: ParseCharacteristics(doc, hash),
			Images:          ImageLinks(doc, s.BaseURL),
		}}, nil
	}
}

// PageLinks returns the pagination hrefs of a listing page.
func PageLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find("ul.pagination li.pag a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); href != "" {
			out = append(out, href)
		}
	})
	return out
}
