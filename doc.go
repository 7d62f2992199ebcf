// Package pulse is an in-process, expression-filtered publish/subscribe
// event bus.
//
// Producers raise named events carrying optional structured data and
// discriminator string sets; consumers register handlers gated by a
// small trigger-expression language compiled into predicates; a
// queue-driven dispatcher runs matching handlers with strict ordering
// and cancellation semantics.
//
// # Trigger expressions
//
// A subscription is described by a trigger expression:
//
//	[modifiers] eventName[filter]:discriminator[filter]/discriminator[filter]/...
//
// Modifiers:
//
//   - once  — auto-unsubscribe after the first delivery
//   - this  — only fire for events emitted with the subscribing owner
//     as their source
//   - await — file the handler in the serial category (one at a time,
//     before any concurrent handler) instead of the default concurrent
//     category
//
// Each segment names an event or discriminator, optionally gated by a
// bracketed filter clause. Filter clauses compose regex literals
// (matched against the discriminator's strings, with capture groups
// forwarded to the handler), quoted membership literals, and free field
// expressions over the event data, joined with && and ||:
//
//	bus.On(`orderPlaced[amount > 100]`, handler)
//	bus.On(`logLine[/ERROR\s+(.*)/]`, handler)
//	bus.On(`once await saved:path["main.go" || /\.go$/]`, handler)
//
// Filters are compiled exactly once, at subscribe time, inside a
// restricted Lua sandbox. Malformed expressions and uncompilable
// clauses reject the subscription with structured errors; nothing ever
// degrades to match-all or match-nothing.
//
// # Dispatch
//
// Emit raises a completable event: it queues the event, returns an
// Outcome, and resolves it with the first non-Continue handler result
// (or Cancel, when a serial handler cancels). Notify is fire-and-
// forget. The Now variants dispatch synchronously in place instead of
// through the queue.
//
// One drain loop owns the queue at a time and fully dispatches each
// event before the next: the serial phase runs matching serial-category
// handlers strictly one at a time (newest subscription first, exact
// name before wildcard), then the concurrent phase runs matching
// concurrent-category handlers together. A serial handler returning
// Cancel resolves the event as cancelled and suppresses the concurrent
// phase entirely.
//
// Handler errors and panics are logged and absorbed; they never reach
// the producer and never block sibling handlers or the queue.
//
// # Ownership
//
// Subscriptions are disposed explicitly: On returns an unsubscribe
// func, and RemoveAllListeners(owner) fires every subscription recorded
// against an owner. There is no finalizer-based automatic reclamation;
// an owner's teardown path must dispose its subscriptions.
//
// # Subpackages
//
//   - trigger: trigger-expression parser
//   - filter: filter-clause compiler
//   - sandbox: restricted Lua execution context
//   - descriptor: discriminator providers
//   - token: trigger-expression token stream
package pulse
