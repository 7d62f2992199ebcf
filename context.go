package pulse

import "context"

// The reentrancy guard is an in-flight subscriber-ID set carried through
// the context. Each serial invocation extends the set for its own
// downstream call chain only, so the guard is scoped to the causal
// chain: the same handler can run again for an unrelated, independently
// triggered event while a prior invocation is still in flight.

type inflightKey struct{}

// markInFlight returns a context whose in-flight set additionally
// contains id. The parent's set is never mutated.
func markInFlight(ctx context.Context, id string) context.Context {
	prev, _ := ctx.Value(inflightKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	return context.WithValue(ctx, inflightKey{}, next)
}

// isInFlight reports whether the subscriber is already executing in the
// current causal call chain.
func isInFlight(ctx context.Context, id string) bool {
	set, _ := ctx.Value(inflightKey{}).(map[string]struct{})
	_, ok := set[id]
	return ok
}
