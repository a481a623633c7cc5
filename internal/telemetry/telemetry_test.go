package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitWithoutProjectKeepsSpansLocal(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := Init(context.Background(), Config{ServiceName: "catalog-crawler", Version: "test", Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Shutdown(context.Background())) })

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()

	counter, err := otel.Meter("test").Int64Counter("catalog_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Contains(t, names, "catalog_test_events_total")
}

func TestShutdownNilProviders(t *testing.T) {
	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
}
