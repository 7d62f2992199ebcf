package pulse

import (
	"context"

	"github.com/dshills/pulse/trigger"
)

// Handler is a subscription callback. It receives the event payload and
// any regex capture strings produced by the subscription's filters.
// Returning an error (or panicking) is logged and treated as Continue;
// it never aborts sibling handlers or the queue.
type Handler func(ctx context.Context, data any, captures ...string) (Result, error)

// Subscriber is one registered subscription. Built once at subscribe
// time from the parsed trigger expression; immutable thereafter.
type Subscriber struct {
	id string

	// specs are the discriminator filters, all of which must match.
	specs []trigger.Spec

	// source is the this-bound owner; when non-nil the subscriber only
	// fires for events whose Source is the same object.
	source any

	// serial files the handler in the serial category.
	serial bool

	// handler is the callback, already wrapped for once-semantics.
	handler Handler

	// names are the distinct per-name lists this subscriber occupies.
	names []string
}

// ID returns the subscriber's unique identity.
func (s *Subscriber) ID() string { return s.id }

// match evaluates every discriminator filter against the event. Capture
// strings accumulate across filters into caps.
//
// Per-key rule: the event's descriptors are asked for the key's string
// set; if the event has no such discriminator and the key is neither
// the wildcard nor the event's own name, the subscriber is skipped.
func (s *Subscriber) match(ev *Event, caps *[]string) bool {
	for _, spec := range s.specs {
		strs, ok := ev.Descriptors.Get(spec.Name)
		if !ok && spec.Name != trigger.Wildcard && spec.Name != ev.Name {
			return false
		}
		if !spec.Filter.Eval(ev.dataView(), strs, caps) {
			return false
		}
	}
	return true
}

// subscriberNames derives the distinct per-name list keys from the
// parsed filter specs, preserving first-seen order.
func subscriberNames(specs []trigger.Spec) []string {
	seen := make(map[string]struct{}, len(specs))
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		if _, dup := seen[spec.Name]; dup {
			continue
		}
		seen[spec.Name] = struct{}{}
		names = append(names, spec.Name)
	}
	return names
}
