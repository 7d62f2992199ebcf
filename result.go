package pulse

import "fmt"

type resultKind int

const (
	kindContinue resultKind = iota
	kindCancel
	kindValue
)

// Result is what a handler returns and what a completable event
// resolves to.
//
// Continue means "no opinion": dispatch proceeds and the value does not
// participate in result aggregation. Cancel from a serial handler
// resolves the event as cancelled and aborts all further processing.
// Value carries a concrete response for request/response-style
// emissions.
type Result struct {
	kind resultKind
	v    any
}

// Continue is the neutral result.
var Continue = Result{}

// Cancel is the cooperative cancellation marker.
var Cancel = Result{kind: kindCancel}

// Value wraps a concrete response value.
func Value(v any) Result {
	return Result{kind: kindValue, v: v}
}

// IsContinue reports whether the result is the neutral Continue.
func (r Result) IsContinue() bool { return r.kind == kindContinue }

// IsCancel reports whether the result is the cancellation marker.
func (r Result) IsCancel() bool { return r.kind == kindCancel }

// Payload returns the wrapped value, or nil for Continue and Cancel.
func (r Result) Payload() any { return r.v }

// String returns a human-readable form.
func (r Result) String() string {
	switch r.kind {
	case kindContinue:
		return "continue"
	case kindCancel:
		return "cancelled"
	default:
		return fmt.Sprintf("value(%v)", r.v)
	}
}
