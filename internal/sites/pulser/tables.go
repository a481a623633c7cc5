package pulser

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/pictures"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

var categoryTable = sites.Table[Category]{
	Name:    "pulser_categories",
	Columns: []string{"category_id", "parent_id", "name", "priority"},
	Values:  func(c Category) []any { return []any{c.ID, c.ParentID, c.Name, c.Priority} },
}

var productTable = sites.Table[Product]{
	Name:    "pulser_products",
	Columns: []string{"source_id", "title", "category_id", "price", "product_url"},
	Values: func(p Product) []any {
		return []any{p.SourceID, p.Title, p.CategoryID, p.Price, p.URL}
	},
}

var characteristicTable = sites.Table[Characteristic]{
	Name:    "pulser_characteristics",
	Columns: []string{"source_id", "characteristic", "value"},
	Values:  func(c Characteristic) []any { return []any{c.SourceID, c.Name, c.Value} },
}

type pictureRow struct {
	sourceID int
	pictures.Picture
}

var pictureTable = sites.Table[pictureRow]{
	Name:    "pulser_pictures",
	Columns: []string{"source_id", "image_url", "path"},
	Values:  func(p pictureRow) []any { return []any{p.sourceID, p.ImageURL, p.Path} },
}

func detailsSink(d sites.Deps, dl *pictures.Downloader) (crawler.Inserter[Details], error) {
	chars, err := sites.Bind(d.Sinks, characteristicTable)
	if err != nil {
		return nil, err
	}
	rows, err := sites.Bind(d.Sinks, pictureTable)
	if err != nil {
		return nil, err
	}
	// Pictures are keyed by the decimal source id; the table keeps it numeric.
	pics := crawler.InserterFunc[pictures.Picture](func(ctx context.Context, found []pictures.Picture) error {
		out := make([]pictureRow, 0, len(found))
		for _, p := range found {
			id, err := strconv.Atoi(p.ProductKey)
			if err != nil {
				return fmt.Errorf("picture key %q: %w", p.ProductKey, err)
			}
			out = append(out, pictureRow{sourceID: id, Picture: p})
		}
		return rows.InsertBatch(ctx, out)
	})
	return sites.Sequence(
		sites.Each(chars, func(dt Details) []Characteristic { return dt.Characteristics }),
		sites.Download(dl, pics, func(dt Details) (string, []string) {
			return strconv.Itoa(dt.SourceID), dt.Images
		}, d.Workers()),
	), nil
}
