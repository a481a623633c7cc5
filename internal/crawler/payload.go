package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// Payload is the raw result of a fetch.
type Payload struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carried a 2xx status.
func (p Payload) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// DecodeJSON unmarshals the body into v.
func (p Payload) DecodeJSON(v any) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return &DecodeError{URL: p.URL, Format: "json", Err: err}
	}
	return nil
}

// Document parses the body as HTML. Bodies that are not valid UTF-8 are
// transcoded using the declared or sniffed charset; fetchers may already
// have transcoded, so valid UTF-8 is parsed as is.
func (p Payload) Document() (*goquery.Document, error) {
	data := p.Body
	if !utf8.Valid(data) {
		enc, _, _ := charset.DetermineEncoding(data, p.Headers.Get("Content-Type"))
		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			return nil, &DecodeError{URL: p.URL, Format: "html", Err: fmt.Errorf("transcode: %w", err)}
		}
		data = decoded
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{URL: p.URL, Format: "html", Err: err}
	}
	return doc, nil
}
