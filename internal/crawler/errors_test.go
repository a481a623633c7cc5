package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"transport", &TransportError{URL: "u", Err: errors.New("dial")}, KindTransport},
		{"status", &HTTPStatusError{URL: "u", StatusCode: 503}, KindHTTPStatus},
		{"decode", &DecodeError{URL: "u", Format: "json", Err: errors.New("eof")}, KindDecode},
		{"extraction", Missing("u", "title"), KindExtraction},
		{"lookup", &ContextLookupError{URL: "u", Key: "category", Value: "X"}, KindContextLookup},
		{"persistence", &PersistenceError{Target: "t", Count: 2, Err: errors.New("dup")}, KindPersistence},
		{"wrapped", fmt.Errorf("worker: %w", &HTTPStatusError{StatusCode: 404}), KindHTTPStatus},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch: %w", &TransportError{URL: "https://example.com", Err: cause})
	require.ErrorIs(t, err, cause)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "https://example.com", te.URL)
}
