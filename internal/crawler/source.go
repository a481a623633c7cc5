package crawler

import (
	"context"
	"fmt"
	"strings"
)

// FindSource returns the source whose name matches name case-insensitively.
// It returns ErrSourceNotFound when no row matches.
func FindSource(ctx context.Context, lookup SourceLookup, name string) (Source, error) {
	if lookup == nil {
		return Source{}, fmt.Errorf("find source %q: lookup is not configured", name)
	}
	sources, err := lookup.SelectSources(ctx)
	if err != nil {
		return Source{}, fmt.Errorf("select sources: %w", err)
	}
	for _, src := range sources {
		if strings.EqualFold(strings.TrimSpace(src.Name), name) {
			return src, nil
		}
	}
	return Source{}, fmt.Errorf("find source %q: %w", name, ErrSourceNotFound)
}
