package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RunStore implements crawler.RunStore on the crawl_runs table.
type RunStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewRunStore binds the crawl_runs table in schema.
func NewRunStore(db DB, schema string) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := qualify(schema, "crawl_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run crawler.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, site, status, submitted_at, error_text, counters)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	if _, err := s.db.Exec(ctx, query,
		run.ID, run.Site, string(run.Status), run.Submitted, run.ErrorText, counters,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus records a status transition. started_at is set on the
// first running transition and finished_at on a terminal one.
func (s *RunStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	counters crawler.RunCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	var started, finished *time.Time
	now := s.now()
	switch status {
	case crawler.RunStatusRunning:
		started = &now
	case crawler.RunStatusSucceeded, crawler.RunStatusFailed:
		finished = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error_text = $2, counters = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $6`, s.table)
	tag, err := s.db.Exec(ctx, query, string(status), errText, payload, started, finished, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", runID, crawler.ErrRunNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	query := fmt.Sprintf(`
SELECT id, site, status, submitted_at, started_at, finished_at, error_text, counters
FROM %s
WHERE id = $1`, s.table)
	var (
		run      crawler.Run
		status   string
		counters []byte
	)
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Site,
		&status,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&counters,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("get run %s: %w", runID, crawler.ErrRunNotFound)
		}
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return crawler.Run{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return run, nil
}
