// Package progress defines the event structures emitted while a site run
// executes.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
	StageFetchDone Stage = "FETCH_DONE"
	StageFlush     Stage = "FLUSH"
)

// Event captures a single component of run progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Site is the catalog site the run belongs to.
	Site string
	// Target names the pipeline stage or destination table.
	Target string
	// Records counts fetched items for FETCH_DONE and persisted rows for FLUSH.
	Records int64
	// Failed counts the items of a window that produced no records.
	Failed int64
	// Dur captures the run wall time on completion.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone, StageFlush:
		if e.Target == "" {
			return fmt.Errorf("%s requires target", e.Stage)
		}
		if e.Records < 0 || e.Failed < 0 {
			return errors.New("counts must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a textual run id into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
