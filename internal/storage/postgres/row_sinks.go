package postgres

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RowSinks binds site tables to Postgres tables in one schema.
type RowSinks struct {
	db     DB
	schema string
	retry  *crawler.ExponentialRetryPolicy
	logger *zap.Logger
}

// NewRowSinks creates a RowSinks over db. A nil retry uses the default policy.
func NewRowSinks(db DB, schema string, retry *crawler.ExponentialRetryPolicy, logger *zap.Logger) *RowSinks {
	return &RowSinks{db: db, schema: schema, retry: retry, logger: logger}
}

// Table returns an inserter writing rows into schema.name.
func (s *RowSinks) Table(name string, columns []string) (crawler.Inserter[crawler.Row], error) {
	table, err := NewTable(s.db, TableConfig[crawler.Row]{
		Schema:  s.schema,
		Name:    name,
		Columns: columns,
		Values:  func(r crawler.Row) []any { return r },
		Retry:   s.retry,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
