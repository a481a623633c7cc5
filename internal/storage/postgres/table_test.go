package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type row struct {
	URL   string
	Title string
}

func newRowTable(t *testing.T, mock pgxmock.PgxPoolIface, retry *crawler.ExponentialRetryPolicy) *Table[row] {
	t.Helper()
	table, err := NewTable(mock, TableConfig[row]{
		Schema:     "catalog",
		Name:       "products",
		Columns:    []string{"url", "title"},
		Values:     func(r row) []any { return []any{r.URL, r.Title} },
		OnConflict: "ON CONFLICT (url) DO NOTHING",
		Retry:      retry,
	})
	require.NoError(t, err)
	return table
}

func fastRetry() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicyFrom(crawler.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
}

func TestInsertBatchBuildsMultiRowInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table := newRowTable(t, mock, nil)
	require.Equal(t, "catalog.products", table.Name())

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO catalog.products (url, title) VALUES ($1, $2), ($3, $4) ON CONFLICT (url) DO NOTHING",
	)).
		WithArgs("/p/1", "Cup", "/p/2", "Lid").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	err = table.InsertBatch(context.Background(), []row{{"/p/1", "Cup"}, {"/p/2", "Lid"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchRetriesSerializationFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table := newRowTable(t, mock, fastRetry())
	mock.ExpectExec("INSERT INTO catalog.products").
		WithArgs("/p/1", "Cup").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectExec("INSERT INTO catalog.products").
		WithArgs("/p/1", "Cup").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, table.InsertBatch(context.Background(), []row{{"/p/1", "Cup"}}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchGivesUpAfterBudget(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table := newRowTable(t, mock, fastRetry())
	for range 3 {
		mock.ExpectExec("INSERT INTO catalog.products").
			WithArgs("/p/1", "Cup").
			WillReturnError(&pgconn.PgError{Code: "08006"})
	}

	err = table.InsertBatch(context.Background(), []row{{"/p/1", "Cup"}})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchDoesNotRetryConstraintViolation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table := newRowTable(t, mock, fastRetry())
	mock.ExpectExec("INSERT INTO catalog.products").
		WithArgs("/p/1", "Cup").
		WillReturnError(&pgconn.PgError{Code: "23502"})

	err = table.InsertBatch(context.Background(), []row{{"/p/1", "Cup"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchRejectsMismatchedValues(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	table, err := NewTable(mock, TableConfig[row]{
		Name:    "products",
		Columns: []string{"url", "title"},
		Values:  func(r row) []any { return []any{r.URL} },
	})
	require.NoError(t, err)
	require.Error(t, table.InsertBatch(context.Background(), []row{{URL: "/p/1"}}))
}

func TestNewTableValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	values := func(r row) []any { return []any{r.URL} }
	_, err = NewTable(mock, TableConfig[row]{Name: "products; drop", Columns: []string{"url"}, Values: values})
	require.Error(t, err)
	_, err = NewTable(mock, TableConfig[row]{Schema: "bad schema", Name: "products", Columns: []string{"url"}, Values: values})
	require.Error(t, err)
	_, err = NewTable(mock, TableConfig[row]{Name: "products", Columns: []string{"url)"}, Values: values})
	require.Error(t, err)
	_, err = NewTable[row](nil, TableConfig[row]{Name: "products"})
	require.Error(t, err)
}

func TestTransient(t *testing.T) {
	t.Parallel()

	require.True(t, transient(&pgconn.PgError{Code: "40P01"}))
	require.True(t, transient(&pgconn.PgError{Code: "08001"}))
	require.False(t, transient(&pgconn.PgError{Code: "23505"}))
	require.False(t, transient(errors.New("plain")))
}
