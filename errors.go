package pulse

import "errors"

// Sentinel errors for the event bus.
var (
	// ErrNilHandler is returned when a nil handler is subscribed.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrBadArguments is returned when an emit-family call does not
	// match any variadic expansion shape.
	ErrBadArguments = errors.New("emit arguments do not match any accepted shape")

	// ErrQueueFull is returned when the pending-event queue is at its
	// configured capacity.
	ErrQueueFull = errors.New("event queue is full")

	// ErrBusClosed is returned when operating on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")
)
