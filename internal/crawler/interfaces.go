package crawler

import (
	"context"
	"time"
)

// Fetcher issues one logical HTTP request.
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts FetchOptions) (Payload, error)
}

// Inserter persists a batch of records.
type Inserter[R any] interface {
	InsertBatch(ctx context.Context, records []R) error
}

// InserterFunc adapts a function to Inserter.
type InserterFunc[R any] func(ctx context.Context, records []R) error

// InsertBatch calls f.
func (f InserterFunc[R]) InsertBatch(ctx context.Context, records []R) error {
	return f(ctx, records)
}

// TableSinks hands out a row inserter per destination table. Repeated calls
// for the same name may share one underlying writer.
type TableSinks interface {
	Table(name string, columns []string) (Inserter[Row], error)
}

// SourceLookup lists every known catalog source.
type SourceLookup interface {
	SelectSources(ctx context.Context) ([]Source, error)
}

// FileStore writes binary content and returns the stored path.
type FileStore interface {
	WriteFile(ctx context.Context, name, dir string, content []byte) (string, error)
}

// RunStore persists run metadata for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RateLimiter blocks until a request to url may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
