package bestpack

import (
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

var categoryTable = sites.Table[Category]{
	Name:    "bestpack_categories",
	Columns: []string{"category_id", "name"},
	Values:  func(c Category) []any { return []any{c.ID, c.Name} },
}

var productTable = sites.Table[Product]{
	Name: "bestpack_products",
	Columns: []string{
		"source_code", "title", "category_id", "overall_pack_price", "overall_box_price",
		"per_price", "per_discount_price", "product_url", "product_url_hash",
	},
	Values: func(p Product) []any {
		return []any{
			p.SourceCode, p.Title, p.CategoryID, p.OverallPackPrice, p.OverallBoxPrice,
			p.PerPrice, p.PerDiscountPrice, p.URL, p.URLHash,
		}
	},
}

var characteristicTable = sites.Table[Characteristic]{
	Name:    "bestpack_characteristics",
	Columns: []string{"product_url_hash", "characteristic", "value"},
	Values:  func(c Characteristic) []any { return []any{c.URLHash, c.Name, c.Value} },
}

var pictureTable = sites.Table[pictures.Picture]{
	Name:    "bestpack_pictures",
	Columns: []string{"product_url_hash", "image_url", "path"},
	Values:  func(p pictures.Picture) []any { return []any{p.ProductKey, p.ImageURL, p.Path} },
}

func detailsSink(d sites.Deps, dl *pictures.Downloader) (crawler.Inserter[Details], error) {
	chars, err := sites.Bind(d.Sinks, characteristicTable)
	if err != nil {
		return nil, err
	}
	pics, err := sites.Bind(d.Sinks, pictureTable)
	if err != nil {
		return nil, err
	}
	return sites.Sequence(
		sites.Each(chars, func(dt Details) []Characteristic { return dt.Characteristics }),
		sites.Download(dl, pics, func(dt Details) (string, []string) { return dt.URLHash, dt.Images }, d.Workers()),
	), nil
}
