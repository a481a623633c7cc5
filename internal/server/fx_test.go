package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/sites"
)

func memoryConfig(siteNames ...string) config.Config {
	var cfg config.Config
	cfg.Server.Port = 8080
	cfg.Server.Workers = 2
	cfg.Server.QueueDepth = 4
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.InsertBatchSize = 10
	cfg.Crawler.UserAgent = "catalog-crawler-test"
	cfg.Crawler.MaxAttempts = 1
	cfg.Crawler.Sites = siteNames
	cfg.HTTP.TimeoutSeconds = 5
	cfg.Storage.Backend = config.StorageMemory
	cfg.Database.Backend = config.DatabaseMemory
	cfg.Telemetry.ServiceName = "catalog-crawler"
	return cfg
}

func TestRegistryListsEverySite(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"Bestpack", "Pulser", "Upack"}, Registry().Names())
}

func TestBuildRejectsUnknownSite(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), memoryConfig("ozon"), zap.NewNop())
	require.ErrorIs(t, err, sites.ErrUnknownSite)
}

func TestBuildWiresMemoryBackends(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig("pulser", "upack"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.Equal(t, []string{"Pulser", "Upack"}, app.Sites())
	require.Nil(t, app.progressHub)
	require.Nil(t, app.pgPool)
	require.Empty(t, app.ready)

	srv := httptest.NewServer(app.apiServer.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(srv.URL + "/v1/sites")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Sites []string `json:"sites"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"Pulser", "Upack"}, body.Sites)

	resp2, err := http.Post(srv.URL+"/v1/runs/bestpack", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
	require.NoError(t, resp2.Body.Close())
}
