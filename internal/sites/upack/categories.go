package upack

import (
	"context"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Category is one node of the flattened catalog tree.
type Category struct {
	ID       int
	ParentID *int
	Name     string
	URL      string
	Priority int
}

type node struct {
	Title    string `json:"title"`
	Path     string `json:"path"`
	Children []node `json:"children"`
}

func (s *Site) fetchCategories(ctx context.Context, fetcher crawler.Fetcher) ([]Category, error) {
	payload, err := fetcher.Fetch(ctx, s.BaseURL+catalogPath, crawler.FetchOptions{RaiseOnStatus: true})
	if err != nil {
		return nil, err
	}
	var tree []node
	if err := payload.DecodeJSON(&tree); err != nil {
		return nil, err
	}
	return flatten(tree, s.BaseURL), nil
}

// flatten walks the tree depth first and numbers categories from 1.
// Nodes without a title or path are dropped along with their subtree.
func flatten(tree []node, baseURL string) []Category {
	var out []Category
	next := 1
	var walk func(nodes []node, parent *int, depth int)
	walk = func(nodes []node, parent *int, depth int) {
		for _, n := range nodes {
			name := crawler.NormalizeText(n.Title)
			if name == "" || n.Path == "" {
				continue
			}
			id := next
			next++
			out = append(out, Category{
				ID:       id,
				ParentID: parent,
				Name:     name,
				URL:      baseURL + n.Path + "?" + pageQuery,
				Priority: depth,
			})
			if len(n.Children) > 0 {
				walk(n.Children, &id, depth+1)
			}
		}
	}
	walk(tree, nil, 1)
	return out
}

// NameIndex maps normalized category names to ids. Later duplicates win.
func NameIndex(categories []Category) map[string]int {
	out := make(map[string]int, len(categories))
	for _, c := range categories {
		out[c.Name] = c.ID
	}
	return out
}

// Seeds returns the top-level category pages.
func Seeds(categories []Category) []crawler.WorkItem {
	var out []crawler.WorkItem
	for _, c := range categories {
		if c.Priority == 1 {
			out = append(out, crawler.NewWorkItem(c.URL, map[string]string{"category": c.Name}))
		}
	}
	return out
}
