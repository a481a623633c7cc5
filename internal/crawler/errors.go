package crawler

import (
	"errors"
	"fmt"
)

// Kind names a failure class for logs, metrics and summaries.
type Kind string

// Failure classes.
const (
	KindNone          Kind = ""
	KindTransport     Kind = "transport"
	KindHTTPStatus    Kind = "http_status"
	KindDecode        Kind = "decode"
	KindExtraction    Kind = "extraction"
	KindPersistence   Kind = "persistence"
	KindContextLookup Kind = "context_lookup"
	KindUnknown       Kind = "unknown"
)

var (
	// ErrSourceNotFound is returned when the run's source row is missing.
	ErrSourceNotFound = errors.New("source not found")
	// ErrNoSeeds is returned when a required upstream stage produced nothing.
	ErrNoSeeds = errors.New("no seeds produced")
	// ErrRunNotFound is returned by run stores for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)

// TransportError reports a network failure or timeout.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// DecodeError reports a malformed JSON or HTML body.
type DecodeError struct {
	URL    string
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s from %s: %v", e.Format, e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExtractionError reports a selector that matched nothing or a missing
// required field.
type ExtractionError struct {
	URL   string
	Field string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s from %s: not found", e.Field, e.URL)
}

// PersistenceError reports a failed insert.
type PersistenceError struct {
	Target string
	Count  int
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d records to %s: %v", e.Count, e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ContextLookupError reports a context value absent from a lookup table,
// e.g. a category name missing from the name->id map.
type ContextLookupError struct {
	URL   string
	Key   string
	Value string
}

func (e *ContextLookupError) Error() string {
	return fmt.Sprintf("lookup %s=%q for %s: missing", e.Key, e.Value, e.URL)
}

// Missing builds an ExtractionError.
func Missing(url, field string) error {
	return &ExtractionError{URL: url, Field: field}
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		transport  *TransportError
		status     *HTTPStatusError
		decode     *DecodeError
		extraction *ExtractionError
		persist    *PersistenceError
		lookup     *ContextLookupError
	)
	switch {
	case errors.As(err, &persist):
		return KindPersistence
	case errors.As(err, &lookup):
		return KindContextLookup
	case errors.As(err, &extraction):
		return KindExtraction
	case errors.As(err, &decode):
		return KindDecode
	case errors.As(err, &status):
		return KindHTTPStatus
	case errors.As(err, &transport):
		return KindTransport
	default:
		return KindUnknown
	}
}
