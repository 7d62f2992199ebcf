package pulse

import (
	"context"
	"sync"
)

// Outcome is the single-resolve completion handle of a completable
// event. It is resolved exactly once, either when a serial handler
// cancels the event or when result aggregation finishes; double
// resolution is impossible by construction.
type Outcome struct {
	done   chan struct{}
	once   sync.Once
	result Result
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// resolvedOutcome returns an already-resolved handle, used for the
// no-subscriber short circuit.
func resolvedOutcome(r Result) *Outcome {
	o := newOutcome()
	o.resolve(r)
	return o
}

func (o *Outcome) resolve(r Result) {
	o.once.Do(func() {
		o.result = r
		close(o.done)
	})
}

// Done returns a channel closed when the event has been resolved.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Result returns the resolved result. It is only meaningful after Done
// is closed; before that it returns Continue.
func (o *Outcome) Result() Result {
	select {
	case <-o.done:
		return o.result
	default:
		return Continue
	}
}

// Await blocks until the event resolves or the context ends.
func (o *Outcome) Await(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.result, nil
	case <-ctx.Done():
		return Continue, ctx.Err()
	}
}
