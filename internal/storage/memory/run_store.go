package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// RunStore keeps run metadata in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]crawler.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status and counters of a run.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	counters crawler.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("update run %s: %w", runID, crawler.ErrRunNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := s.now()
	if status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if status == crawler.RunStatusSucceeded || status == crawler.RunStatusFailed {
		run.Finished = &now
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by id.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.Run{}, fmt.Errorf("get run %s: %w", runID, crawler.ErrRunNotFound)
	}
	return run, nil
}
