// Package descriptor provides named string-collection lookups for events.
//
// A discriminator is a named string-array attribute of an event beyond its
// name. Trigger-expression filters test discriminators by name; the
// Provider interface is how an event exposes them to the dispatcher.
package descriptor

// Provider supplies the discriminator string sets for one event.
type Provider interface {
	// Get returns the strings recorded under the discriminator name.
	// The second return is false when the event has no such discriminator.
	Get(name string) ([]string, bool)
}

// Map is a Provider backed by a plain map. The zero value is usable.
type Map map[string][]string

// Get implements Provider.
func (m Map) Get(name string) ([]string, bool) {
	strs, ok := m[name]
	return strs, ok
}

// Single returns a Provider exposing one discriminator.
func Single(name string, strs ...string) Provider {
	return Map{name: strs}
}

// noneProvider has no discriminators at all.
type noneProvider struct{}

func (noneProvider) Get(string) ([]string, bool) { return nil, false }

var none = noneProvider{}

// None returns the empty Provider used for events constructed without
// descriptors.
func None() Provider { return none }
