package pulse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/pulse/descriptor"
	"github.com/dshills/pulse/trigger"
)

func newTestBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	b, err := New(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func await(t *testing.T, out *Outcome) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := out.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	return res
}

func countingHandler(n *atomic.Int64) Handler {
	return func(ctx context.Context, data any, captures ...string) (Result, error) {
		n.Add(1)
		return Continue, nil
	}
}

func TestEmit_DataFilter(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await orderPlaced[amount > 100]", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("orderPlaced", nil, map[string]any{"amount": 150})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 1 {
		t.Errorf("expected a matching payload to be delivered, got %d calls", calls.Load())
	}

	out, err = b.Emit("orderPlaced", nil, map[string]any{"amount": 50})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 1 {
		t.Errorf("expected a non-matching payload to be filtered out, got %d calls", calls.Load())
	}
}

func TestEmit_RegexCaptures(t *testing.T) {
	b := newTestBus(t)

	var got []string
	_, err := b.On("await logLine[/ERROR/]", func(ctx context.Context, data any, captures ...string) (Result, error) {
		got = captures
		return Continue, nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("logLine", descriptor.Map{"logLine": {"INFO ok", "ERROR disk full"}})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	if len(got) == 0 || got[0] != "ERROR disk full" {
		t.Errorf("expected the matching line as the first capture, got %v", got)
	}
}

func TestOnce_FiresOnce(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.Once("click", countingHandler(&calls)); err != nil {
		t.Fatalf("Once: %v", err)
	}

	out, err := b.Emit("click", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	out, err = b.Emit("click", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	if calls.Load() != 1 {
		t.Errorf("expected exactly one delivery, got %d", calls.Load())
	}
	if b.Registry().Count() != 0 {
		t.Error("expected the subscription to be gone")
	}
}

func TestSerial_NewestFirst(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, data any, captures ...string) (Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Continue, nil
		}
	}

	if _, err := b.On("await saved", record("A")); err != nil {
		t.Fatalf("On: %v", err)
	}
	if _, err := b.On("await saved", record("B")); err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	if len(order) != 2 || order[0] != "B" || order[1] != "A" {
		t.Errorf("expected newest-first order [B A], got %v", order)
	}
}

func TestDispatch_SerialBeforeConcurrent(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, data any, captures ...string) (Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return Continue, nil
		}
	}

	if _, err := b.On("saved", record("concurrent")); err != nil {
		t.Fatalf("On: %v", err)
	}
	if _, err := b.On("await saved", record("serial")); err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	if len(order) != 2 || order[0] != "serial" || order[1] != "concurrent" {
		t.Errorf("expected the serial phase to finish first, got %v", order)
	}
}

func TestDispatch_CancelSuppressesConcurrentPhase(t *testing.T) {
	b := newTestBus(t)

	var skipped atomic.Int64

	// Older serial subscriber, tried after the canceller.
	if _, err := b.On("await saved", countingHandler(&skipped)); err != nil {
		t.Fatalf("On: %v", err)
	}
	// Concurrent subscriber, never reached.
	if _, err := b.On("saved", countingHandler(&skipped)); err != nil {
		t.Fatalf("On: %v", err)
	}
	_, err := b.On("await saved", func(ctx context.Context, data any, captures ...string) (Result, error) {
		return Cancel, nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if res := await(t, out); !res.IsCancel() {
		t.Errorf("expected cancellation, got %v", res)
	}
	if skipped.Load() != 0 {
		t.Errorf("expected no handler after the canceller, got %d calls", skipped.Load())
	}
}

func TestDispatch_SerialResultWinsAggregation(t *testing.T) {
	b := newTestBus(t)

	_, err := b.On("query", func(ctx context.Context, data any, captures ...string) (Result, error) {
		return Value("concurrent"), nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}
	_, err = b.On("await query", func(ctx context.Context, data any, captures ...string) (Result, error) {
		return Value("serial"), nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("query", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if res := await(t, out); res.Payload() != "serial" {
		t.Errorf("expected the serial result to win, got %v", res)
	}
}

func TestDispatch_ConcurrentValueResolves(t *testing.T) {
	b := newTestBus(t)

	_, err := b.On("query", func(ctx context.Context, data any, captures ...string) (Result, error) {
		return Value(42), nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("query", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if res := await(t, out); res.Payload() != 42 {
		t.Errorf("expected value 42, got %v", res)
	}
}

func TestEmitNow_ReentrancyGuard(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	_, err := b.On("await ping", func(ctx context.Context, data any, captures ...string) (Result, error) {
		calls.Add(1)
		// Re-raising the same event from inside its own handler must not
		// recurse.
		if _, err := b.EmitNow(ctx, "ping", nil); err != nil {
			return Continue, err
		}
		return Continue, nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	if _, err := b.EmitNow(context.Background(), "ping", nil); err != nil {
		t.Fatalf("EmitNow: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one invocation, got %d", calls.Load())
	}
}

func TestEmitNow_UnrelatedEventsUnaffected(t *testing.T) {
	b := newTestBus(t)

	var inner atomic.Int64
	if _, err := b.On("await pong", countingHandler(&inner)); err != nil {
		t.Fatalf("On: %v", err)
	}
	_, err := b.On("await ping", func(ctx context.Context, data any, captures ...string) (Result, error) {
		_, err := b.EmitNow(ctx, "pong", nil)
		return Continue, err
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	if _, err := b.EmitNow(context.Background(), "ping", nil); err != nil {
		t.Fatalf("EmitNow: %v", err)
	}
	if inner.Load() != 1 {
		t.Errorf("expected the nested distinct event to be delivered, got %d", inner.Load())
	}
}

func TestSourceBoundSubscription(t *testing.T) {
	b := newTestBus(t)

	owner := &struct{ name string }{"panel"}
	other := &struct{ name string }{"other"}

	var calls atomic.Int64
	if _, err := b.On("this await refresh", countingHandler(&calls), owner); err != nil {
		t.Fatalf("On: %v", err)
	}

	ctx := context.Background()
	if _, err := b.EmitNow(ctx, "refresh", nil, owner, map[string]any{"full": true}); err != nil {
		t.Fatalf("EmitNow: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected delivery for the bound source, got %d", calls.Load())
	}

	if _, err := b.EmitNow(ctx, "refresh", nil, other, map[string]any{"full": true}); err != nil {
		t.Fatalf("EmitNow: %v", err)
	}
	if _, err := b.EmitNow(ctx, "refresh", nil); err != nil {
		t.Fatalf("EmitNow: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected other sources to be skipped, got %d", calls.Load())
	}
}

func TestThisWithoutOwnerRejected(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("this saved", countingHandler(&calls)); !errors.Is(err, trigger.ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestRemoveAllListeners(t *testing.T) {
	b := newTestBus(t)
	owner := &struct{}{}

	var calls atomic.Int64
	if _, err := b.On("saved", countingHandler(&calls), owner); err != nil {
		t.Fatalf("On: %v", err)
	}
	if _, err := b.On("await saved", countingHandler(&calls), owner); err != nil {
		t.Fatalf("On: %v", err)
	}

	b.RemoveAllListeners(owner)

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 0 {
		t.Errorf("expected no deliveries after teardown, got %d", calls.Load())
	}
	if b.Registry().Count() != 0 {
		t.Error("expected an empty registry")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	unsub, err := b.On("await saved", countingHandler(&calls))
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	unsub()
	unsub() // safe to repeat

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 0 {
		t.Errorf("expected no deliveries after unsubscribe, got %d", calls.Load())
	}
}

func TestEmit_NoSubscribersShortCircuits(t *testing.T) {
	b := newTestBus(t)

	out, err := b.Emit("ghost", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	select {
	case <-out.Done():
	default:
		t.Fatal("expected an already-resolved outcome")
	}
	if !out.Result().IsContinue() {
		t.Errorf("expected continue, got %v", out.Result())
	}
	if b.Stats().EventsPublished != 0 {
		t.Error("expected no event to be published")
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await *", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	for _, name := range []string{"saved", "opened"} {
		out, err := b.Emit(name, nil)
		if err != nil {
			t.Fatalf("Emit(%s): %v", name, err)
		}
		await(t, out)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the wildcard to see every event, got %d", calls.Load())
	}
}

func TestMultiSegmentAndsTogether(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await fileSaved:markdown", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("fileSaved", descriptor.Map{"markdown": {"README.md"}})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 1 {
		t.Errorf("expected delivery when every segment matches, got %d", calls.Load())
	}

	out, err = b.Emit("fileSaved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)
	if calls.Load() != 1 {
		t.Errorf("expected no delivery with a missing discriminator, got %d", calls.Load())
	}
}

func TestNotify_FireAndForget(t *testing.T) {
	b := newTestBus(t)

	delivered := make(chan struct{})
	_, err := b.On("tick", func(ctx context.Context, data any, captures ...string) (Result, error) {
		close(delivered)
		return Continue, nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	if err := b.Notify("tick", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("expected the notification to be delivered")
	}
}

func TestNotifyNow_SerialRunsInPlace(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await tick", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	if err := b.NotifyNow(context.Background(), "tick", nil); err != nil {
		t.Fatalf("NotifyNow: %v", err)
	}
	if calls.Load() != 1 {
		t.Error("expected the serial handler to complete before NotifyNow returns")
	}
}

func TestHandlerErrorAbsorbed(t *testing.T) {
	b := newTestBus(t)

	_, err := b.On("await saved", func(ctx context.Context, data any, captures ...string) (Result, error) {
		return Cancel, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if res := await(t, out); !res.IsContinue() {
		t.Errorf("expected a failed handler to count as continue, got %v", res)
	}
	if b.Stats().HandlerErrors != 1 {
		t.Errorf("expected one handler error, got %d", b.Stats().HandlerErrors)
	}
}

func TestHandlerPanicAbsorbed(t *testing.T) {
	b := newTestBus(t)

	var after atomic.Int64
	if _, err := b.On("await saved", countingHandler(&after)); err != nil {
		t.Fatalf("On: %v", err)
	}
	_, err := b.On("await saved", func(ctx context.Context, data any, captures ...string) (Result, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if res := await(t, out); !res.IsContinue() {
		t.Errorf("expected a panicking handler to count as continue, got %v", res)
	}
	if after.Load() != 1 {
		t.Error("expected the sibling handler to still run")
	}
	if b.Stats().HandlerPanics != 1 {
		t.Errorf("expected one handler panic, got %d", b.Stats().HandlerPanics)
	}
}

func TestOn_NilHandler(t *testing.T) {
	b := newTestBus(t)
	if _, err := b.On("saved", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}
}

func TestOn_BadExpressionInstallsNothing(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("saved[a ==]", countingHandler(&calls)); err == nil {
		t.Fatal("expected a compile error")
	}
	if b.Registry().Count() != 0 {
		t.Error("expected no subscription to be installed")
	}
}

func TestEmit_BadArguments(t *testing.T) {
	b := newTestBus(t)

	if _, err := b.Emit("saved", nil, 1, 2, 3, 4); !errors.Is(err, ErrBadArguments) {
		t.Errorf("expected ErrBadArguments for four args, got %v", err)
	}
	if _, err := b.Emit("saved", nil, 1, 2, 3); !errors.Is(err, ErrBadArguments) {
		t.Errorf("expected ErrBadArguments for a non-string middle arg, got %v", err)
	}
}

func TestEmit_QueueFull(t *testing.T) {
	b := newTestBus(t, WithMaxQueuedEvents(1))

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	_, err := b.On("await slow", func(ctx context.Context, data any, captures ...string) (Result, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return Continue, nil
	})
	if err != nil {
		t.Fatalf("On: %v", err)
	}

	if _, err := b.Emit("slow", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	<-started // the drain loop is now parked in the handler

	if _, err := b.Emit("slow", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if _, err := b.Emit("slow", nil); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestEmit_AfterClose(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await saved", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	b.Close()
	if _, err := b.Emit("saved", nil); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestStats(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	if _, err := b.On("await saved", countingHandler(&calls)); err != nil {
		t.Fatalf("On: %v", err)
	}

	out, err := b.Emit("saved", nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	await(t, out)

	s := b.Stats()
	if s.EventsPublished != 1 || s.Delivered != 1 {
		t.Errorf("expected 1 published and 1 delivered, got %+v", s)
	}
	if s.Subscribers != 1 {
		t.Errorf("expected 1 subscriber, got %d", s.Subscribers)
	}
}
