// Package crawler defines core types shared across subsystems.
package crawler

import (
	"maps"
	"net/http"
	"time"
)

// WorkItem is one unit of crawl input: a target URL plus optional context
// such as the category a listing page belongs to. Treat it as immutable.
type WorkItem struct {
	URL     string
	Context map[string]string
}

// NewWorkItem builds a WorkItem with a defensive copy of ctx.
func NewWorkItem(url string, ctx map[string]string) WorkItem {
	item := WorkItem{URL: url}
	if len(ctx) > 0 {
		item.Context = maps.Clone(ctx)
	}
	return item
}

// Value returns a context value and whether it was present.
func (w WorkItem) Value(key string) (string, bool) {
	v, ok := w.Context[key]
	return v, ok
}

// WorkItems wraps plain URLs into context-free work items.
func WorkItems(urls ...string) []WorkItem {
	out := make([]WorkItem, 0, len(urls))
	for _, u := range urls {
		out = append(out, WorkItem{URL: u})
	}
	return out
}

// FetchOptions controls a single fetch.
type FetchOptions struct {
	// Method is GET when empty.
	Method  string
	Headers http.Header
	Body    []byte
	// RaiseOnStatus turns a non-2xx response into an *HTTPStatusError.
	// When false the payload is returned and the caller inspects StatusCode.
	RaiseOnStatus bool
	// Quiet suppresses per-request debug logging.
	Quiet bool
}

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the metadata kept for each submitted site run.
type Run struct {
	ID        string      `json:"id"`
	Site      string      `json:"site"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// RunCounters mirrors the pipeline summary totals for API consumers.
type RunCounters struct {
	Pages                 int `json:"pages"`
	Failed                int `json:"failed"`
	SkippedMissingContext int `json:"skipped_missing_context"`
	Duplicates            int `json:"duplicates"`
	Persisted             int `json:"persisted"`
}

// QueueItem wraps a run ready to execute.
type QueueItem struct {
	RunID     string
	Site      string
	Attempt   int
	Submitted int64
}

// Source is a catalog source row: an opaque id bound to a readable name.
type Source struct {
	ID   string `json:"id" bson:"_id"`
	Name string `json:"name" bson:"name"`
}

// Row is one record flattened into a table's column order.
type Row []any
