package upack

import (
	"context"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/batch"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Product is one product card page.
type Product struct {
	SourceCode      string
	Title           string
	CategoryID      int
	URL             string
	PerPrice        float64
	QuantityPerBox  int
	QuantityPerPack int
	MinQuantity     int
	MinBatchPrice   float64
}

// Characteristic is one key/value property of a product.
type Characteristic struct {
	SourceCode string
	Name       string
	Value      string
}

// Bundle is everything extracted from one product page.
type Bundle struct {
	Product         Product
	Characteristics []Characteristic
	// Images are downloaded by the sink once the bundle survives dedup.
	Images []string
}

// Values that mean "not specified".
var trashValues = map[string]struct{}{"НЕ УКАЗАН": {}, "0": {}}

// ProductLinks returns the absolute product URLs of a listing page.
func ProductLinks(doc *goquery.Document, baseURL, pageURL string) ([]string, error) {
	cards := doc.Find("div.product-wrapper div.product-wrapper-inner a.catalog-item__inner")
	if cards.Length() == 0 {
		return nil, crawler.Missing(pageURL, "product cards")
	}
	var out []string
	cards.Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out = append(out, baseURL+strings.TrimSpace(href))
		}
	})
	return out, nil
}

func (s *Site) parseProduct(fetcher crawler.Fetcher, categories map[string]int) batch.Worker[Bundle] {
	return func(ctx context.Context, item crawler.WorkItem) ([]Bundle, error) {
		payload, err := fetcher.Fetch(ctx, item.URL, crawler.FetchOptions{RaiseOnStatus: true})
		if err != nil {
			return nil, err
		}
		doc, err := payload.Document()
		if err != nil {
			return nil, err
		}
		product, err := ParseProduct(doc, item.URL, categories)
		if err != nil {
			return nil, err
		}
		return []Bundle{{
			Product:         product,
			Characteristics: ParseCharacteristics(doc, product.SourceCode),
			Images:          ImageLinks(doc),
		}}, nil
	}
}

// ParseProduct extracts the product fields of a card page. A breadcrumb
// category missing from categories is a *crawler.ContextLookupError.
func ParseProduct(doc *goquery.Document, pageURL string, categories map[string]int) (Product, error) {
	code := SourceCode(doc.Find("div.card-article--page").First().Text())
	if code == "" {
		return Product{}, crawler.Missing(pageURL, "source_code")
	}
	title := crawler.NormalizeText(doc.Find("h1.page-title").First().Text())
	if title == "" {
		return Product{}, crawler.Missing(pageURL, "title")
	}

	crumb := doc.Find(`ul.Breadcrumbs_breadcrumbs__0II_j li meta[content="3"]`).First().Closest("li")
	category := crawler.NormalizeText(crumb.Find(`[itemprop="name"]`).First().Text())
	if category == "" {
		return Product{}, crawler.Missing(pageURL, "category")
	}
	categoryID, ok := categories[category]
	if !ok {
		return Product{}, &crawler.ContextLookupError{URL: pageURL, Key: "category", Value: category}
	}

	price, ok := crawler.ParsePrice(doc.Find("div.card-panel span.card-price__total > span").First().Text())
	if !ok {
		return Product{}, crawler.Missing(pageURL, "per_price")
	}

	lines := doc.Find("div.card-panel > p")
	if lines.Length() < 3 {
		return Product{}, crawler.Missing(pageURL, "quantities")
	}
	quantity := func(i int, field string) (int, error) {
		n, ok := crawler.Digits(lines.Eq(i).Text())
		if !ok || n == 0 {
			return 0, crawler.Missing(pageURL, field)
		}
		return n, nil
	}
	perBox, err := quantity(0, "quantity_per_box")
	if err != nil {
		return Product{}, err
	}
	perPack, err := quantity(1, "quantity_per_pack")
	if err != nil {
		return Product{}, err
	}
	minQty, err := quantity(2, "min_quantity")
	if err != nil {
		return Product{}, err
	}

	return Product{
		SourceCode:      code,
		Title:           title,
		CategoryID:      categoryID,
		URL:             pageURL,
		PerPrice:        price,
		QuantityPerBox:  perBox,
		QuantityPerPack: perPack,
		MinQuantity:     minQty,
		MinBatchPrice:   price * float64(minQty),
	}, nil
}

// SourceCode strips the "Арт." label and whitespace from an article line.
func SourceCode(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 'А', r == 'р', r == 'т', r == '.', unicode.IsSpace(r):
			return -1
		}
		return r
	}, text)
}

// ParseCharacteristics returns the property list, first key wins, with
// placeholder values dropped.
func ParseCharacteristics(doc *goquery.Document, sourceCode string) []Characteristic {
	var out []Characteristic
	seen := make(map[string]struct{})
	doc.Find("ul.props-list li.CardPropsItem_card-props__item__s7rU2").Each(func(_ int, li *goquery.Selection) {
		key := crawler.NormalizeText(li.Find("span.CardPropsItem_card-props__name__rwBE3").First().Text())
		value := crawler.NormalizeText(li.Find("span.CardPropsItem_card-props__value__1rCme").First().Text())
		if key == "" || value == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		if _, trash := trashValues[value]; trash {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Characteristic{SourceCode: sourceCode, Name: key, Value: value})
	})
	return out
}

// ImageLinks returns the absolute gallery image URLs.
func ImageLinks(doc *goquery.Document) []string {
	var out []string
	doc.Find(`div.card-images--page a[data-fancybox='gallery']`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.HasPrefix(href, "http") {
			out = append(out, href)
		}
	})
	return out
}
