package progress

import "context"

// Sink receives delivered batches of run events. The Hub calls Consume for
// each batch with a bounded context, possibly while other sinks consume the
// same batch, and calls Close once after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single run events. Site runs report through a
// RunReporter and never see how events are batched.
type Emitter interface {
	Emit(evt Event)
}
