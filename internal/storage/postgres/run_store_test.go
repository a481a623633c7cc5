package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	submitted := fixed.Add(-time.Minute)
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "upack", "queued", submitted, "", []byte(`{"pages":0,"failed":0,"skipped_missing_context":0,"duplicates":0,"persisted":0}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateRun(context.Background(), crawler.Run{
		ID: "run-1", Site: "upack", Status: crawler.RunStatusQueued, Submitted: submitted,
	}))

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("running", "", pgxmock.AnyArg(), &fixed, (*time.Time)(nil), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateRunStatus(context.Background(), "run-1", crawler.RunStatusRunning, "", crawler.RunCounters{}))

	mock.ExpectExec("UPDATE crawl_runs").
		WithArgs("succeeded", "", pgxmock.AnyArg(), (*time.Time)(nil), &fixed, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateRunStatus(context.Background(), "run-1", crawler.RunStatusSucceeded, "",
		crawler.RunCounters{Pages: 3, Persisted: 40}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateUnknownRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "catalog")
	require.NoError(t, err)
	mock.ExpectExec("UPDATE catalog.crawl_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateRunStatus(context.Background(), "missing", crawler.RunStatusFailed, "boom", crawler.RunCounters{})
	require.ErrorIs(t, err, crawler.ErrRunNotFound)
}

func TestRunStoreGetRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	submitted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	mock.ExpectQuery("SELECT id, site, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "site", "status", "submitted_at", "started_at", "finished_at", "error_text", "counters",
		}).AddRow("run-1", "pulser", "running", submitted, &started, (*time.Time)(nil), "", []byte(`{"pages":2}`)))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusRunning, run.Status)
	require.Equal(t, 2, run.Counters.Pages)
	require.NotNil(t, run.Started)
	require.Nil(t, run.Finished)

	mock.ExpectQuery("SELECT id, site, status").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrRunNotFound)
}
