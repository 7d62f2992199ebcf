package pulse

import (
	"context"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/pulse/descriptor"
	"github.com/dshills/pulse/filter"
	"github.com/dshills/pulse/sandbox"
	"github.com/dshills/pulse/trigger"
)

// Bus is the in-process, expression-filtered event bus. Producers emit
// named events carrying optional structured data and discriminator
// string sets; consumers register handlers gated by trigger
// expressions. All methods are safe for concurrent use.
type Bus struct {
	log zerolog.Logger
	reg *Registry
	sb  *sandbox.Sandbox
	fc  *filter.Compiler

	mu       sync.Mutex
	queue    []*Event
	draining bool
	maxQueue int
	closed   bool

	// Stats
	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
}

// Option configures a Bus.
type Option func(*busConfig)

type busConfig struct {
	log              zerolog.Logger
	logSet           bool
	instructionLimit int64
	maxQueue         int
}

// WithLogger sets the bus logger. Handler errors, handler panics, and
// predicate failures are reported through it.
func WithLogger(log zerolog.Logger) Option {
	return func(c *busConfig) {
		c.log = log
		c.logSet = true
	}
}

// WithConfig applies a loaded Config.
func WithConfig(cfg Config) Option {
	return func(c *busConfig) {
		if !c.logSet {
			c.log = cfg.logger()
			c.logSet = true
		}
		c.instructionLimit = cfg.InstructionLimit
		c.maxQueue = cfg.MaxQueuedEvents
	}
}

// WithMaxQueuedEvents bounds the pending-event queue; 0 means unbounded.
func WithMaxQueuedEvents(n int) Option {
	return func(c *busConfig) {
		c.maxQueue = n
	}
}

// New creates a Bus with its own sandbox and filter compiler.
func New(opts ...Option) (*Bus, error) {
	cfg := busConfig{
		log: zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sbOpts := []sandbox.Option{sandbox.WithLogger(cfg.log)}
	if cfg.instructionLimit > 0 {
		sbOpts = append(sbOpts, sandbox.WithInstructionLimit(cfg.instructionLimit))
	}
	sb, err := sandbox.New(sbOpts...)
	if err != nil {
		return nil, err
	}

	return &Bus{
		log:      cfg.log,
		reg:      NewRegistry(),
		sb:       sb,
		fc:       filter.NewCompiler(sb, filter.WithLogger(cfg.log)),
		maxQueue: cfg.maxQueue,
	}, nil
}

// Close releases the bus's sandbox. Subscriptions and queued events are
// abandoned; predicates evaluated after Close match nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.sb.Close()
}

// Registry exposes the subscription registry, primarily for owner
// teardown via RemoveAllListeners.
func (b *Bus) Registry() *Registry { return b.reg }

// On registers a handler gated by the trigger expression. The optional
// owner is the object the this modifier binds to; it additionally
// records the subscription for RemoveAllListeners. The returned func
// unsubscribes and is safe to call more than once.
//
// Parse and filter-compile failures abort registration: the error
// carries the offending token or the structured compile errors, and no
// permissive fallback predicate is ever installed.
func (b *Bus) On(expr string, h Handler, owner ...any) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	var src any
	if len(owner) > 0 {
		src = owner[0]
	}

	parsed, err := trigger.Parse(expr, src, b.fc)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		id:     uuid.NewString(),
		specs:  parsed.Filters,
		source: parsed.Source,
		serial: parsed.Serial,
		names:  subscriberNames(parsed.Filters),
	}
	unsub := func() { b.reg.Remove(sub) }

	if parsed.Once {
		// Self-unsubscribe before invocation so a second emit can never
		// observe the subscription.
		sub.handler = func(ctx context.Context, data any, captures ...string) (Result, error) {
			unsub()
			return h(ctx, data, captures...)
		}
	} else {
		sub.handler = h
	}

	b.reg.Add(sub)
	if src != nil {
		b.reg.BindOwner(src, unsub)
	}
	return unsub, nil
}

// Once registers a handler that fires at most once. Equivalent to On
// with the once modifier prepended.
func (b *Bus) Once(expr string, h Handler, owner ...any) (func(), error) {
	return b.On("once "+expr, h, owner...)
}

// RemoveAllListeners invokes and clears every unsubscribe recorded
// against the owner.
func (b *Bus) RemoveAllListeners(owner any) {
	b.reg.RemoveAllListeners(owner)
}

// Emit raises a completable event through the queue and returns its
// completion handle. When no subscriber (either category, exact name or
// wildcard) exists, it short-circuits to an already-resolved Continue
// without touching the queue.
//
// args follow the variadic expansion rule: (source?, text?, data?); see
// expandArgs.
func (b *Bus) Emit(name string, desc descriptor.Provider, args ...any) (*Outcome, error) {
	source, text, data, err := expandArgs(args)
	if err != nil {
		return nil, err
	}
	if !b.reg.HasAny(name) {
		return resolvedOutcome(Continue), nil
	}
	ev := newEvent(name, desc, source, text, data, newOutcome())
	if err := b.enqueue(ev); err != nil {
		return nil, err
	}
	return ev.completion, nil
}

// EmitNow raises a completable event and dispatches it synchronously in
// place, bypassing the queue. The serial phase still completes fully
// before the concurrent phase.
func (b *Bus) EmitNow(ctx context.Context, name string, desc descriptor.Provider, args ...any) (Result, error) {
	source, text, data, err := expandArgs(args)
	if err != nil {
		return Continue, err
	}
	if !b.reg.HasAny(name) {
		return Continue, nil
	}
	ev := newEvent(name, desc, source, text, data, newOutcome())
	b.dispatch(ctx, ev)
	return ev.completion.Result(), nil
}

// Notify raises a fire-and-forget event through the queue. Concurrent
// handlers are invoked without being awaited at all.
func (b *Bus) Notify(name string, desc descriptor.Provider, args ...any) error {
	source, text, data, err := expandArgs(args)
	if err != nil {
		return err
	}
	if !b.reg.HasAny(name) {
		return nil
	}
	return b.enqueue(newEvent(name, desc, source, text, data, nil))
}

// NotifyNow raises a fire-and-forget event and dispatches it
// synchronously in place. Serial handlers complete before it returns;
// concurrent handlers are not awaited.
func (b *Bus) NotifyNow(ctx context.Context, name string, desc descriptor.Provider, args ...any) error {
	source, text, data, err := expandArgs(args)
	if err != nil {
		return err
	}
	if !b.reg.HasAny(name) {
		return nil
	}
	b.dispatch(ctx, newEvent(name, desc, source, text, data, nil))
	return nil
}

// enqueue appends to the FIFO and starts the drain loop if idle. The
// draining flag is the busy signal: an emit during a drain appends to
// the same queue rather than starting a second loop.
func (b *Bus) enqueue(ev *Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	if b.maxQueue > 0 && len(b.queue) >= b.maxQueue {
		b.mu.Unlock()
		return ErrQueueFull
	}
	b.queue = append(b.queue, ev)
	start := !b.draining
	if start {
		b.draining = true
	}
	b.mu.Unlock()

	if start {
		go b.drain()
	}
	return nil
}

// drain pops and fully dispatches one event at a time until the queue
// empties.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.dispatch(context.Background(), ev)
	}
}

// matched pairs a subscriber with the captures its filters produced.
type matched struct {
	sub  *Subscriber
	caps []string
}

// dispatch runs the two-phase protocol for one event: the serial phase
// strictly one handler at a time, then the concurrent phase (skipped
// when the event already resolved).
func (b *Bus) dispatch(ctx context.Context, ev *Event) {
	b.published.Add(1)

	// Serial phase: exact name then wildcard, newest first. The latest
	// non-continue return value rides along as the running candidate.
	running := Continue
	for _, sub := range b.reg.Candidates(true, ev.Name) {
		if isInFlight(ctx, sub.id) {
			continue
		}
		if sub.source != nil && sub.source != ev.Source {
			continue
		}
		var caps []string
		if !sub.match(ev, &caps) {
			continue
		}

		res := b.invoke(markInFlight(ctx, sub.id), sub, ev, caps)
		if ev.completion != nil && res.IsCancel() {
			// Cancellation aborts all further processing; the
			// concurrent phase never runs.
			ev.completion.resolve(Cancel)
			return
		}
		if !res.IsContinue() {
			running = res
		}
	}

	// Concurrent phase. Matching is evaluated here, in dispatch order,
	// so capture extraction stays deterministic even though handlers
	// run concurrently.
	var matches []matched
	for _, sub := range b.reg.Candidates(false, ev.Name) {
		if sub.source != nil && sub.source != ev.Source {
			continue
		}
		var caps []string
		if sub.match(ev, &caps) {
			matches = append(matches, matched{sub: sub, caps: caps})
		}
	}

	if ev.completion == nil {
		// Pure notification: true fire-and-forget.
		for _, m := range matches {
			go b.invoke(ctx, m.sub, ev, m.caps)
		}
		return
	}

	// Completable: run all concurrent handlers, wait for all of them,
	// then resolve with the first non-continue outcome in collection
	// order. The serial phase's running candidate is element zero.
	results := make([]Result, len(matches)+1)
	results[0] = running
	var wg sync.WaitGroup
	for i, m := range matches {
		wg.Add(1)
		go func(i int, m matched) {
			defer wg.Done()
			results[i+1] = b.invoke(ctx, m.sub, ev, m.caps)
		}(i, m)
	}
	wg.Wait()

	final := Continue
	for _, r := range results {
		if !r.IsContinue() {
			final = r
			break
		}
	}
	ev.completion.resolve(final)
}

// invoke runs one handler with panic recovery. Errors and panics are
// logged and absorbed as Continue; they never propagate to the producer
// or block sibling handlers.
func (b *Bus) invoke(ctx context.Context, sub *Subscriber, ev *Event, caps []string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.log.Error().
				Str("event", ev.Name).
				Str("subscriber", sub.id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			res = Continue
		}
	}()

	r, err := sub.handler(ctx, ev.payload(), caps...)
	if err != nil {
		b.handlerErrors.Add(1)
		b.log.Warn().
			Str("event", ev.Name).
			Str("subscriber", sub.id).
			Err(err).
			Msg("handler failed")
		return Continue
	}
	b.delivered.Add(1)
	return r
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	EventsPublished uint64
	Delivered       uint64
	HandlerErrors   uint64
	HandlerPanics   uint64
	QueueDepth      int
	Subscribers     int
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	depth := len(b.queue)
	b.mu.Unlock()

	return Stats{
		EventsPublished: b.published.Load(),
		Delivered:       b.delivered.Load(),
		HandlerErrors:   b.handlerErrors.Load(),
		HandlerPanics:   b.handlerPanics.Load(),
		QueueDepth:      depth,
		Subscribers:     b.reg.Count(),
	}
}
