package upack

import (
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

var categoryTable = sites.Table[Category]{
	Name:    "upack_categories",
	Columns: []string{"category_id", "parent_id", "name", "category_url", "priority"},
	Values: func(c Category) []any {
		return []any{c.ID, c.ParentID, c.Name, c.URL, c.Priority}
	},
}

var productTable = sites.Table[Product]{
	Name: "upack_products",
	Columns: []string{
		"source_code", "title", "category_id", "product_url", "per_price",
		"quantity_per_box", "quantity_per_pack", "min_quantity", "min_batch_price",
	},
	Values: func(p Product) []any {
		return []any{
			p.SourceCode, p.Title, p.CategoryID, p.URL, p.PerPrice,
			p.QuantityPerBox, p.QuantityPerPack, p.MinQuantity, p.MinBatchPrice,
		}
	},
}

var characteristicTable = sites.Table[Characteristic]{
	Name:    "upack_characteristics",
	Columns: []string{"source_code", "characteristic", "value"},
	Values: func(c Characteristic) []any {
		return []any{c.SourceCode, c.Name, c.Value}
	},
}

var pictureTable = sites.Table[pictures.Picture]{
	Name:    "upack_pictures",
	Columns: []string{"source_code", "image_url", "path"},
	Values: func(p pictures.Picture) []any {
		return []any{p.ProductKey, p.ImageURL, p.Path}
	},
}

func bundleSink(d sites.Deps, dl *pictures.Downloader) (crawler.Inserter[Bundle], error) {
	products, err := sites.Bind(d.Sinks, productTable)
	if err != nil {
		return nil, err
	}
	chars, err := sites.Bind(d.Sinks, characteristicTable)
	if err != nil {
		return nil, err
	}
	pics, err := sites.Bind(d.Sinks, pictureTable)
	if err != nil {
		return nil, err
	}
	return sites.Sequence(
		sites.Each(products, func(b Bundle) []Product { return []Product{b.Product} }),
		sites.Each(chars, func(b Bundle) []Characteristic { return b.Characteristics }),
		sites.Download(dl, pics, func(b Bundle) (string, []string) { return b.Product.SourceCode, b.Images }, d.Workers()),
	), nil
}
