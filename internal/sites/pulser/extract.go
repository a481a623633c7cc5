package pulser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Category is one node of the navigation tree.
type Category struct {
	ID       int
	ParentID *int
	Name     string
	Priority int
}

// Product is one listing card.
type Product struct {
	SourceID   int
	Title      string
	CategoryID int
	Price      int
	URL        string
}

// Characteristic is one specification row of a product page.
type Characteristic struct {
	SourceID int
	Name     string
	Value    string
}

// Details is everything extracted from one product page.
type Details struct {
	SourceID        int
	Characteristics []Characteristic
	// Images are downloaded by the sink once the page survives dedup.
	Images []string
}

const (
	productNameKey = "НАЗВАНИЕ ПРОДУКТА"
	// placeholderImage marks the stock image served for products without photos.
	placeholderImage = "dirtyAlias=placeHolder.png"
)

var (
	hrefIDRe   = regexp.MustCompile(`-(\d+)$`)
	spaceRe    = regexp.MustCompile(`\s+`)
	allDigitRe = regexp.MustCompile(`^\d+$`)
)

// ParseCategories walks the navigation dropdowns depth first and numbers
// categories from 1.
func ParseCategories(doc *goquery.Document) []Category {
	var out []Category
	var walk func(el *goquery.Selection, parent *int, depth int)
	walk = func(el *goquery.Selection, parent *int, depth int) {
		name := crawler.NormalizeText(el.Find("a.nav-link").First().Text())
		if name == "" {
			return
		}
		id := len(out) + 1
		out = append(out, Category{ID: id, ParentID: parent, Name: name, Priority: depth})
		el.Find("ul.nav-cat li.nav-item").
			FilterFunction(func(_ int, child *goquery.Selection) bool {
				return child.Parent().Closest("li.nav-item").IsSelection(el)
			}).
			Each(func(_ int, child *goquery.Selection) {
				walk(child, &id, depth+1)
			})
	}
	doc.Find("li.nav-item.dropdown").Each(func(_ int, el *goquery.Selection) {
		walk(el, nil, 1)
	})
	return out
}

// NameIndex maps category names to ids. Later duplicates win.
func NameIndex(categories []Category) map[string]int {
	out := make(map[string]int, len(categories))
	for _, c := range categories {
		out[c.Name] = c.ID
	}
	return out
}

// CategoryLinks returns every dropdown category page with all products
// on one page.
func CategoryLinks(doc *goquery.Document, baseURL string) []crawler.WorkItem {
	var out []crawler.WorkItem
	doc.Find("li.nav-item.dropdown div.dropdown-menu a.nav-link").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" {
			return
		}
		out = append(out, crawler.NewWorkItem(baseURL+href+"?limit=0", nil))
	})
	return out
}

// ParseListing extracts product cards. Most categories render tiles keyed
// by data-key with prices elsewhere on the page; a few use a plain card
// layout with the code printed on the card.
func ParseListing(doc *goquery.Document, baseURL, pageURL string, categories map[string]int) ([]Product, error) {
	name := crawler.NormalizeText(doc.Find(`li.breadcrumb-item.active[aria-current="page"]`).First().Text())
	if name == "" {
		return nil, crawler.Missing(pageURL, "category")
	}
	categoryID, ok := categories[name]
	if !ok {
		return nil, &crawler.ContextLookupError{URL: pageURL, Key: "category", Value: name}
	}

	tiles := doc.Find("div.card-deck.card-tiles")
	if tiles.Length() == 0 {
		return parsePlainCards(doc, baseURL, pageURL, categoryID)
	}
	var out []Product
	tiles.Each(func(_ int, tile *goquery.Selection) {
		key, _ := tile.Attr("data-key")
		if key == "" {
			return
		}
		card := tile.Find("div.card").First()
		href, _ := card.Find(`a[href^='/product/']`).First().Attr("href")
		id, ok := SourceID(href)
		if !ok {
			return
		}
		title := crawler.NormalizeText(card.Find("div.card-title a").First().Text())
		if title == "" {
			return
		}
		price, ok := parsePrice(doc.Find("span.dvizh-shop-price.dvizh-shop-price-" + key).First().Text())
		if !ok {
			return
		}
		out = append(out, Product{SourceID: id, Title: title, CategoryID: categoryID, Price: price, URL: baseURL + href})
	})
	return out, nil
}

func parsePlainCards(doc *goquery.Document, baseURL, pageURL string, categoryID int) ([]Product, error) {
	cards := doc.Find("div.maincard")
	if cards.Length() == 0 {
		return nil, crawler.Missing(pageURL, "product cards")
	}
	var out []Product
	cards.Each(func(_ int, card *goquery.Selection) {
		id, ok := crawler.FirstInt(card.Find("div.col-6.mcard-small > small").First().Text())
		if !ok {
			return
		}
		link := card.Find(`div.card-title a[href^='/product/']`).First()
		title := crawler.NormalizeText(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return
		}
		price, ok := parsePrice(card.Find("span.dvizh-shop-price").First().Text())
		if !ok {
			return
		}
		out = append(out, Product{SourceID: id, Title: title, CategoryID: categoryID, Price: price, URL: baseURL + href})
	})
	return out, nil
}

// SourceID parses the numeric suffix of a product href such as
// "/product/cup-250-1234".
func SourceID(href string) (int, bool) {
	m := hrefIDRe.FindStringSubmatch(strings.TrimSpace(href))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

func parsePrice(text string) (int, bool) {
	text = spaceRe.ReplaceAllString(text, "")
	if !allDigitRe.MatchString(text) {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ProductCode reads the code printed under the product title.
func ProductCode(doc *goquery.Document) (int, bool) {
	small := doc.Find("body > main > div > section > div.row > div:nth-child(2) > div > div:nth-child(1) > div > div:nth-child(2) > small").First()
	return crawler.FirstInt(small.Text())
}

// ParseCharacteristics returns the specification rows, first key wins,
// without the product name row.
func ParseCharacteristics(doc *goquery.Document, sourceID int) []Characteristic {
	var out []Characteristic
	seen := make(map[string]struct{})
	doc.Find("div.row.no-gutters").Each(func(_ int, row *goquery.Selection) {
		key := crawler.NormalizeText(row.Find("div.col-sm-3").First().Text())
		value := crawler.NormalizeText(row.Find("div.col-sm-9").First().Text())
		if key == "" || value == "" || key == productNameKey {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Characteristic{SourceID: sourceID, Name: key, Value: value})
	})
	return out
}

// ImageLinks returns the absolute preview image URLs, without the
// placeholder image.
func ImageLinks(doc *goquery.Document, baseURL string) []string {
	var out []string
	doc.Find("li.img-cardpreview").Each(func(_ int, li *goquery.Selection) {
		src, _ := li.Find("img").First().Attr("src")
		if src == "" || strings.Contains(src, placeholderImage) {
			return
		}
		out = append(out, baseURL+src)
	})
	return out
}
