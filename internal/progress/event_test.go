package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()
	cases := []struct {
		name string
		evt  Event
		err  string
	}{
		{"ok start", Event{RunID: id, TS: now, Stage: StageRunStart}, ""},
		{"ok flush", Event{RunID: id, TS: now, Stage: StageFlush, Target: "t", Records: 3}, ""},
		{"no id", Event{TS: now, Stage: StageRunStart}, "run id"},
		{"no ts", Event{RunID: id, Stage: StageRunStart}, "timestamp"},
		{"no target", Event{RunID: id, TS: now, Stage: StageFetchDone}, "requires target"},
		{"negative", Event{RunID: id, TS: now, Stage: StageFlush, Target: "t", Records: -1}, "counts"},
		{"unknown", Event{RunID: id, TS: now, Stage: "NOPE"}, "unknown stage"},
		{"negative dur", Event{RunID: id, TS: now, Stage: StageRunDone, Dur: -time.Second}, "duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}

func TestParseRunID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	got, err := ParseRunID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, Event{RunID: got}.RunUUID())

	_, err = ParseRunID("nope")
	require.Error(t, err)
}

type recordingEmitter struct{ events []Event }

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }

func TestRunReporterStampsEvents(t *testing.T) {
	t.Parallel()

	rec := &recordingEmitter{}
	id := UUIDToBytes(uuid.New())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r := NewRunReporter(rec, id, "Pulser", now)
	r.Start()
	r.Window("pulser_products", 10, 2)
	r.Flush("pulser_products", 8)
	r.Error(errors.New("boom"))

	require.Len(t, rec.events, 4)
	for _, evt := range rec.events {
		require.Equal(t, id, evt.RunID)
		require.Equal(t, "Pulser", evt.Site)
		require.NoError(t, evt.Validate())
	}
	require.Equal(t, int64(10), rec.events[1].Records)
	require.Equal(t, int64(2), rec.events[1].Failed)
	require.Equal(t, StageRunError, rec.events[3].Stage)
	require.Equal(t, "boom", rec.events[3].Note)
	require.Positive(t, rec.events[3].Dur)
}

func TestRunReporterNilSafe(t *testing.T) {
	t.Parallel()

	var r *RunReporter
	r.Start()
	r.Done(1)
	NewRunReporter(nil, [16]byte{1}, "x", nil).Flush("t", 1)
}
