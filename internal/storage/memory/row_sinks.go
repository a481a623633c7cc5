package memory

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RowSinks keeps one in-memory Table per name.
type RowSinks struct {
	mu      sync.Mutex
	tables  map[string]*Table[crawler.Row]
	columns map[string][]string
}

// NewRowSinks creates an empty RowSinks.
func NewRowSinks() *RowSinks {
	return &RowSinks{
		tables:  make(map[string]*Table[crawler.Row]),
		columns: make(map[string][]string),
	}
}

// Table returns the table for name, creating it on first use.
func (s *RowSinks) Table(name string, columns []string) (crawler.Inserter[crawler.Row], error) {
	if name == "" || len(columns) == 0 {
		return nil, fmt.Errorf("table name and columns are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t, nil
	}
	t := &Table[crawler.Row]{}
	s.tables[name] = t
	s.columns[name] = append([]string(nil), columns...)
	return t, nil
}

// Rows returns the rows inserted into name as column->value maps.
func (s *RowSinks) Rows(name string) []map[string]any {
	s.mu.Lock()
	t, ok := s.tables[name]
	cols := s.columns[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	records := t.Records()
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		m := make(map[string]any, len(cols))
		for i, col := range cols {
			if i < len(rec) {
				m[col] = rec[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// Tables lists the names requested so far.
func (s *RowSinks) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	return out
}
