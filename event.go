package pulse

import (
	"sync"

	"github.com/dshills/pulse/descriptor"
	"github.com/dshills/pulse/filter"
)

// Event is one dispatched occurrence. Events live only for the duration
// of their dispatch; they are never persisted.
type Event struct {
	// Name is the event name subscriptions match against.
	Name string

	// Descriptors supplies the event's discriminator string sets.
	// Never nil; events constructed without descriptors get
	// descriptor.None.
	Descriptors descriptor.Provider

	// Source is the optional emitting object, used for this-bound
	// subscription matching.
	Source any

	// Text is the optional string shorthand payload.
	Text string

	// Data is the optional structured payload.
	Data any

	// completion is non-nil only for request/response-style emissions.
	completion *Outcome

	viewOnce sync.Once
	view     filter.Data
}

func newEvent(name string, desc descriptor.Provider, source any, text string, data any, completion *Outcome) *Event {
	if desc == nil {
		desc = descriptor.None()
	}
	return &Event{
		Name:        name,
		Descriptors: desc,
		Source:      source,
		Text:        text,
		Data:        data,
		completion:  completion,
	}
}

// dataView returns the JSON view predicates resolve field expressions
// against, built at most once per event.
func (e *Event) dataView() filter.Data {
	e.viewOnce.Do(func() {
		e.view = filter.NewData(e.Data, e.Text)
	})
	return e.view
}

// payload is the first argument handlers receive: the structured data
// when present, else the text shorthand, else nil.
func (e *Event) payload() any {
	if e.Data != nil {
		return e.Data
	}
	if e.Text != "" {
		return e.Text
	}
	return nil
}

// expandArgs applies the emit-family variadic expansion:
//
//	0 args            -> nothing
//	1 string          -> text
//	1 non-string      -> data
//	2 args, 1st string -> (text, data)
//	2 args, 2nd string -> (source, text)
//	2 args            -> (source, data)
//	3 args            -> (source, text, data)
func expandArgs(args []any) (source any, text string, data any, err error) {
	switch len(args) {
	case 0:
		return nil, "", nil, nil
	case 1:
		if s, ok := args[0].(string); ok {
			return nil, s, nil, nil
		}
		return nil, "", args[0], nil
	case 2:
		if s, ok := args[0].(string); ok {
			return nil, s, args[1], nil
		}
		if s, ok := args[1].(string); ok {
			return args[0], s, nil, nil
		}
		return args[0], "", args[1], nil
	case 3:
		s, ok := args[1].(string)
		if !ok {
			return nil, "", nil, ErrBadArguments
		}
		return args[0], s, args[2], nil
	default:
		return nil, "", nil, ErrBadArguments
	}
}
