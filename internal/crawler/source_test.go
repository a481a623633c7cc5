package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	sources []Source
	err     error
}

func (s stubLookup) SelectSources(context.Context) ([]Source, error) {
	return s.sources, s.err
}

func TestFindSource(t *testing.T) {
	t.Parallel()

	lookup := stubLookup{sources: []Source{
		{ID: "11111111-1111-1111-1111-111111111111", Name: "Bestpack"},
		{ID: "22222222-2222-2222-2222-222222222222", Name: "UPACK"},
	}}

	src, err := FindSource(context.Background(), lookup, "upack")
	require.NoError(t, err)
	require.Equal(t, "22222222-2222-2222-2222-222222222222", src.ID)

	_, err = FindSource(context.Background(), lookup, "pulser")
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestFindSourcePropagatesLookupError(t *testing.T) {
	t.Parallel()

	_, err := FindSource(context.Background(), stubLookup{err: errors.New("db down")}, "upack")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSourceNotFound)
}
