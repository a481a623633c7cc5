// Package sitestest provides canned fetchers and in-memory deps for site
// strategy tests.
package sitestest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// SourceID is the id of the single source row Deps installs.
const SourceID = "11111111-2222-3333-4444-555555555555"

// Fetcher serves canned bodies keyed by exact URL. Unknown URLs are 404.
type Fetcher struct {
	mu     sync.Mutex
	pages  map[string]response
	counts map[string]int
}

type response struct {
	status      int
	contentType string
	body        []byte
}

// NewFetcher creates an empty Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{pages: make(map[string]response), counts: make(map[string]int)}
}

// HTML registers an HTML page.
func (f *Fetcher) HTML(url, body string) *Fetcher {
	return f.set(url, http.StatusOK, "text/html; charset=utf-8", []byte(body))
}

// JSON registers a JSON document.
func (f *Fetcher) JSON(url, body string) *Fetcher {
	return f.set(url, http.StatusOK, "application/json", []byte(body))
}

// Binary registers raw bytes such as an image.
func (f *Fetcher) Binary(url string, body []byte) *Fetcher {
	return f.set(url, http.StatusOK, "application/octet-stream", body)
}

// Status registers an empty response with code.
func (f *Fetcher) Status(url string, code int) *Fetcher {
	return f.set(url, code, "text/plain", nil)
}

func (f *Fetcher) set(url string, status int, contentType string, body []byte) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = response{status: status, contentType: contentType, body: body}
	return f
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, target string, opts crawler.FetchOptions) (crawler.Payload, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Payload{}, &crawler.TransportError{URL: target, Err: err}
	}
	f.mu.Lock()
	f.counts[target]++
	resp, ok := f.pages[target]
	f.mu.Unlock()
	if !ok {
		resp = response{status: http.StatusNotFound, contentType: "text/plain"}
	}
	payload := crawler.Payload{
		URL:        target,
		StatusCode: resp.status,
		Headers:    http.Header{"Content-Type": []string{resp.contentType}},
		Body:       resp.body,
		Duration:   time.Millisecond,
	}
	if !payload.OK() && opts.RaiseOnStatus {
		return payload, &crawler.HTTPStatusError{URL: target, StatusCode: resp.status}
	}
	return payload, nil
}

// Count reports how many times url was fetched.
func (f *Fetcher) Count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

// Env bundles the in-memory collaborators behind a Deps.
type Env struct {
	Deps  sites.Deps
	Rows  *memory.RowSinks
	Files *memory.FileStore
}

// NewEnv wires f into Deps with memory sinks, a memory file store and a
// single source named source. Threshold and concurrency are small so
// tests cross several windows and flushes.
func NewEnv(f *Fetcher, source string) *Env {
	rows := memory.NewRowSinks()
	files := memory.NewFileStore()
	return &Env{
		Deps: sites.Deps{
			HTML:        f,
			Sinks:       rows,
			Sources:     memory.Sources{{ID: SourceID, Name: source}},
			Files:       files,
			Concurrency: 2,
			Threshold:   2,
		},
		Rows:  rows,
		Files: files,
	}
}
