package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// maxParams is the Postgres bind parameter limit per statement.
const maxParams = 65535

// TableConfig describes how records of type R map onto a table.
type TableConfig[R any] struct {
	Schema  string
	Name    string
	Columns []string
	// Values returns one value per column, in Columns order.
	Values func(R) []any
	// OnConflict is appended verbatim, e.g. "ON CONFLICT (product_url_hash) DO NOTHING".
	OnConflict string
	Retry      *crawler.ExponentialRetryPolicy
	Logger     *zap.Logger
}

// Table inserts batches of R with multi-row INSERT statements.
type Table[R any] struct {
	db      DB
	name    string
	columns []string
	values  func(R) []any
	suffix  string
	retry   *crawler.ExponentialRetryPolicy
	logger  *zap.Logger
}

// NewTable validates cfg and binds it to db.
func NewTable[R any](db DB, cfg TableConfig[R]) (*Table[R], error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := qualify(cfg.Schema, cfg.Name)
	if err != nil {
		return nil, err
	}
	if len(cfg.Columns) == 0 || cfg.Values == nil {
		return nil, fmt.Errorf("table %s: columns and values are required", name)
	}
	for _, col := range cfg.Columns {
		if !validIdentifier.MatchString(col) {
			return nil, fmt.Errorf("table %s: invalid column %q", name, col)
		}
	}
	retry := cfg.Retry
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table[R]{
		db:      db,
		name:    name,
		columns: append([]string(nil), cfg.Columns...),
		values:  cfg.Values,
		suffix:  cfg.OnConflict,
		retry:   retry,
		logger:  logger.With(zap.String("table", name)),
	}, nil
}

// Name is the qualified table name.
func (t *Table[R]) Name() string { return t.name }

// InsertBatch writes records, splitting statements at the bind limit.
// Transient failures are retried with backoff.
func (t *Table[R]) InsertBatch(ctx context.Context, records []R) error {
	perStmt := maxParams / len(t.columns)
	for start := 0; start < len(records); start += perStmt {
		end := min(start+perStmt, len(records))
		query, args, err := t.build(records[start:end])
		if err != nil {
			return err
		}
		if err := t.exec(ctx, query, args); err != nil {
			return fmt.Errorf("insert into %s: %w", t.name, err)
		}
	}
	return nil
}

func (t *Table[R]) build(records []R) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", t.name, strings.Join(t.columns, ", "))
	args := make([]any, 0, len(records)*len(t.columns))
	for i, rec := range records {
		vals := t.values(rec)
		if len(vals) != len(t.columns) {
			return "", nil, fmt.Errorf("table %s: record %d has %d values for %d columns",
				t.name, i, len(vals), len(t.columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range vals {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, vals...)
	}
	if t.suffix != "" {
		b.WriteByte(' ')
		b.WriteString(t.suffix)
	}
	return b.String(), args, nil
}

func (t *Table[R]) exec(ctx context.Context, query string, args []any) error {
	for attempt := 0; ; attempt++ {
		_, err := t.db.Exec(ctx, query, args...)
		if err == nil {
			return nil
		}
		if !transient(err) || !t.retry.ShouldRetry(err, attempt+1) {
			return err
		}
		t.logger.Warn("insert failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		if serr := t.retry.Sleep(ctx, attempt); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// transient reports errors worth another attempt: failures before the
// statement reached the server, lost connections, and serialization or
// deadlock aborts.
func transient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return true
		}
	}
	return false
}
