package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// SourceStore reads the catalog source table.
type SourceStore struct {
	db    DB
	table string
}

// NewSourceStore binds the sources table in schema.
func NewSourceStore(db DB, schema string) (*SourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := qualify(schema, "sources")
	if err != nil {
		return nil, err
	}
	return &SourceStore{db: db, table: table}, nil
}

// SelectSources returns every source row.
func (s *SourceStore) SelectSources(ctx context.Context) ([]crawler.Source, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT id::text, name FROM %s ORDER BY name`, s.table))
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}
	defer rows.Close()

	var out []crawler.Source
	for rows.Next() {
		var src crawler.Source
		if err := rows.Scan(&src.ID, &src.Name); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}
