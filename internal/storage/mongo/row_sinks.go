package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RowSinks maps each site table onto a collection of the same name. Rows
// become documents keyed by column.
type RowSinks struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewRowSinks creates a RowSinks over db.
func NewRowSinks(db *mongo.Database, logger *zap.Logger) *RowSinks {
	return &RowSinks{db: db, logger: logger}
}

// Table returns an inserter writing rows as documents into the name collection.
func (s *RowSinks) Table(name string, columns []string) (crawler.Inserter[crawler.Row], error) {
	if name == "" || len(columns) == 0 {
		return nil, fmt.Errorf("collection name and columns are required")
	}
	cols := append([]string(nil), columns...)
	coll := NewCollection[bson.D](s.db.Collection(name), s.logger)
	return crawler.InserterFunc[crawler.Row](func(ctx context.Context, rows []crawler.Row) error {
		docs, err := Documents(cols, rows)
		if err != nil {
			return fmt.Errorf("collection %s: %w", name, err)
		}
		return coll.InsertBatch(ctx, docs)
	}), nil
}

// Documents converts rows into ordered documents.
func Documents(columns []string, rows []crawler.Row) ([]bson.D, error) {
	docs := make([]bson.D, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(columns))
		}
		doc := make(bson.D, len(columns))
		for j, col := range columns {
			doc[j] = bson.E{Key: col, Value: row[j]}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
