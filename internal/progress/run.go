package progress

import "time"

// RunReporter stamps events for one run and forwards them to an Emitter.
// A nil emitter makes every method a no-op.
type RunReporter struct {
	emitter Emitter
	runID   [16]byte
	site    string
	now     func() time.Time
	started time.Time
}

// NewRunReporter binds events to runID and site.
func NewRunReporter(emitter Emitter, runID [16]byte, site string, now func() time.Time) *RunReporter {
	if now == nil {
		now = time.Now
	}
	return &RunReporter{emitter: emitter, runID: runID, site: site, now: now}
}

func (r *RunReporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Site = r.site
	evt.TS = r.now().UTC()
	r.emitter.Emit(evt)
}

// Start marks the run as started and remembers the start time.
func (r *RunReporter) Start() {
	if r == nil {
		return
	}
	r.started = r.now()
	r.emit(Event{Stage: StageRunStart})
}

// Window reports one completed fetch window of a pipeline stage.
func (r *RunReporter) Window(target string, results, failed int) {
	r.emit(Event{Stage: StageFetchDone, Target: target, Records: int64(results), Failed: int64(failed)})
}

// Flush reports rows handed to a destination table.
func (r *RunReporter) Flush(target string, records int) {
	r.emit(Event{Stage: StageFlush, Target: target, Records: int64(records)})
}

// Done reports successful completion.
func (r *RunReporter) Done(persisted int) {
	r.emit(Event{Stage: StageRunDone, Records: int64(persisted), Dur: r.elapsed()})
}

// Error reports a failed run.
func (r *RunReporter) Error(err error) {
	note := ""
	if err != nil {
		note = err.Error()
	}
	r.emit(Event{Stage: StageRunError, Dur: r.elapsed(), Note: note})
}

func (r *RunReporter) elapsed() time.Duration {
	if r == nil || r.started.IsZero() {
		return 0
	}
	if d := r.now().Sub(r.started); d > 0 {
		return d
	}
	return 0
}
