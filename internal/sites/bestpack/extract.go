package bestpack

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
)

// Category is one catalog category. Href is the city-less listing path.
type Category struct {
	ID   int
	Name string
	Href string
}

// Product is one listing card.
type Product struct {
	SourceCode       *string
	Title            string
	CategoryID       int
	OverallPackPrice float64
	OverallBoxPrice  float64
	PerPrice         float64
	PerDiscountPrice *float64
	URL              string
	URLHash          string
}

// Characteristic is one property row of a product page.
type Characteristic struct {
	URLHash string
	Name    string
	Value   string
}

// Details is everything extracted from one product page.
type Details struct {
	URLHash         string
	Characteristics []Characteristic
	// Images are downloaded by the sink once the page survives dedup.
	Images []string
}

const showAll = "ПОКАЗАТЬ ВСЕ"

// ParseCategories numbers the catalog categories from 1, skipping the
// "show all" entry and entries without a link.
func ParseCategories(doc *goquery.Document) []Category {
	var out []Category
	doc.Find("ul.catalog_cats_list > li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a.cat_item").First()
		name := crawler.NormalizeText(a.Text())
		href, _ := a.Attr("href")
		if name == "" || name == showAll || href == "" {
			return
		}
		out = append(out, Category{ID: len(out) + 1, Name: name, Href: href})
	})
	return out
}

// Cities returns the city slugs other than the default city.
func Cities(doc *goquery.Document) []string {
	var out []string
	doc.Find("div.city_list div.city_item").Each(func(_ int, el *goquery.Selection) {
		city, _ := el.Attr("data-city")
		if city != "" && city != defaultCity {
			out = append(out, city)
		}
	})
	return out
}

// CategoryURLs lists every category for the default city first, then for
// each other city under its prefix.
func CategoryURLs(baseURL string, categories []Category, cities []string) []crawler.WorkItem {
	out := make([]crawler.WorkItem, 0, len(categories)*(len(cities)+1))
	for _, c := range categories {
		out = append(out, crawler.NewWorkItem(baseURL+c.Href, map[string]string{"category": c.Name}))
	}
	for _, city := range cities {
		for _, c := range categories {
			out = append(out, crawler.NewWorkItem(baseURL+"/"+city+c.Href, map[string]string{"category": c.Name, "city": city}))
		}
	}
	return out
}

// NameIndex maps category names to ids.
func NameIndex(categories []Category) map[string]int {
	out := make(map[string]int, len(categories))
	for _, c := range categories {
		out[c.Name] = c.ID
	}
	return out
}

// ParseListing extracts the product cards of a listing page. Cards missing
// a required field are dropped; the page fails only when its category is
// unknown or it shows no cards at all.
func ParseListing(doc *goquery.Document, baseURL, pageURL string, categories map[string]int) ([]Product, error) {
	name := crawler.NormalizeText(doc.Find("body > div.section.page > div:nth-child(1) > ul > li:nth-child(3) > a").First().Text())
	if name == "" {
		return nil, crawler.Missing(pageURL, "category")
	}
	categoryID, ok := categories[name]
	if !ok {
		return nil, &crawler.ContextLookupError{URL: pageURL, Key: "category", Value: name}
	}
	cards := doc.Find("div.product_item.share_item")
	if cards.Length() == 0 {
		return nil, crawler.Missing(pageURL, "product cards")
	}
	var out []Product
	cards.Each(func(_ int, card *goquery.Selection) {
		if p, ok := parseCard(card, baseURL, categoryID); ok {
			out = append(out, p)
		}
	})
	return out, nil
}

func parseCard(card *goquery.Selection, baseURL string, categoryID int) (Product, bool) {
	title := crawler.NormalizeText(card.Find("a.product_name").First().Text())
	if title == "" {
		return Product{}, false
	}
	pack, ok := crawler.ParsePrice(card.Find("div.product_total_price").First().Text())
	if !ok {
		return Product{}, false
	}
	boxAttr, _ := card.Find(`div.amount_block[data-type="box"]`).First().Attr("data-box-price")
	box, ok := crawler.ParsePrice(boxAttr)
	if !ok {
		return Product{}, false
	}
	per, ok := crawler.FirstInt(card.Find("div.share_price span.share_price_current").First().Text())
	if !ok {
		return Product{}, false
	}
	var discount *float64
	if old, ok := crawler.FirstInt(card.Find("div.share_price span.share_price_old").First().Text()); ok {
		v := float64(old)
		discount = &v
	}
	perPrice, discount := NormalizePrices(float64(per), discount)

	href, _ := card.Find("a.share_img").First().Attr("href")
	suffix := URLSuffix(href)
	if suffix == "" {
		return Product{}, false
	}

	var code *string
	if raw := strings.TrimSpace(strings.ReplaceAll(card.Find("div.product_articul").First().Text(), "Арт.", "")); raw != "" {
		code = &raw
	}
	return Product{
		SourceCode:       code,
		Title:            title,
		CategoryID:       categoryID,
		OverallPackPrice: pack,
		OverallBoxPrice:  box,
		PerPrice:         perPrice,
		PerDiscountPrice: discount,
		URL:              baseURL + href,
		URLHash:          URLHash(suffix),
	}, true
}

// NormalizePrices keeps the current price as the larger of the pair: when
// the struck-through price is above the current one the two are swapped.
func NormalizePrices(per float64, discount *float64) (float64, *float64) {
	if discount == nil || *discount <= per {
		return per, discount
	}
	swapped := per
	return *discount, &swapped
}

// URLSuffix is the part of a product href from its last "/products/"
// segment on, so city variants of one product share it.
func URLSuffix(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.LastIndex(href, "/products/"); i >= 0 {
		return href[i:]
	}
	return href
}

// URLHash is the hex sha256 of a URL suffix.
func URLHash(suffix string) string {
	return sha256.Sum(suffix)
}

// ParseCharacteristics returns the property rows, first key wins, with "-"
// values dropped. Colons are removed from keys.
func ParseCharacteristics(doc *goquery.Document, urlHash string) []Characteristic {
	var out []Characteristic
	seen := make(map[string]struct{})
	doc.Find("div.prod_chars_row").Each(func(_ int, row *goquery.Selection) {
		key := strings.ReplaceAll(crawler.NormalizeText(row.Find("div.prod_chars_name").First().Text()), ":", "")
		value := crawler.NormalizeText(row.Find("div.prod_chars_value").First().Text())
		if key == "" || value == "" || value == "-" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Characteristic{URLHash: urlHash, Name: key, Value: value})
	})
	return out
}

// ImageLinks returns the absolute gallery image URLs of a product page.
func ImageLinks(doc *goquery.Document, baseURL string) []string {
	var out []string
	doc.Find("div.product_dots img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" {
			return
		}
		abs, err := crawler.ResolveURL(baseURL+"/", src)
		if err != nil {
			return
		}
		out = append(out, abs)
	})
	return out
}
