package pulse

import (
	"sync"

	"github.com/dshills/pulse/trigger"
)

// Registry holds the subscriber indices: two ordered mappings (serial
// and concurrent category) from event name, including "*", to a
// newest-first list of subscribers. A name entry is removed entirely
// once its list empties, so "no subscribers" is an O(1) check.
//
// It also keeps the owner association: unsubscribe callbacks recorded
// against an owning object, fired by RemoveAllListeners. Owners must be
// comparable values, typically pointers.
type Registry struct {
	mu         sync.RWMutex
	serial     map[string][]*Subscriber
	concurrent map[string][]*Subscriber
	owners     map[any][]func()
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		serial:     make(map[string][]*Subscriber),
		concurrent: make(map[string][]*Subscriber),
		owners:     make(map[any][]func()),
	}
}

func (r *Registry) index(serial bool) map[string][]*Subscriber {
	if serial {
		return r.serial
	}
	return r.concurrent
}

// Add front-inserts the subscriber into every per-name list it belongs
// to, in its category index. New subscriptions are tried before old
// ones.
func (r *Registry) Add(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(sub.serial)
	for _, name := range sub.names {
		idx[name] = append([]*Subscriber{sub}, idx[name]...)
	}
}

// Remove deletes the subscriber from every list it was inserted into.
// Emptied lists are dropped from the index. Removing an absent
// subscriber is a no-op.
func (r *Registry) Remove(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(sub.serial)
	for _, name := range sub.names {
		subs := idx[name]
		for i, s := range subs {
			if s.id == sub.id {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(idx, name)
		} else {
			idx[name] = subs
		}
	}
}

// HasAny reports whether any subscriber, in either category, is
// registered for the name exactly or under the wildcard.
func (r *Registry) HasAny(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.serial[name]) > 0 || len(r.concurrent[name]) > 0 {
		return true
	}
	return len(r.serial[trigger.Wildcard]) > 0 || len(r.concurrent[trigger.Wildcard]) > 0
}

// Candidates returns the category's subscribers for an event name:
// the exact-name list first, then the wildcard list, each front-to-back
// (newest first). The result is a copy; a subscriber occupying both
// lists appears once.
func (r *Registry) Candidates(serial bool, name string) []*Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.index(serial)
	exact := idx[name]
	wild := idx[trigger.Wildcard]
	if name == trigger.Wildcard {
		wild = nil
	}
	if len(exact) == 0 && len(wild) == 0 {
		return nil
	}

	out := make([]*Subscriber, 0, len(exact)+len(wild))
	seen := make(map[string]struct{}, len(exact)+len(wild))
	for _, list := range [][]*Subscriber{exact, wild} {
		for _, s := range list {
			if _, dup := seen[s.id]; dup {
				continue
			}
			seen[s.id] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of distinct registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, idx := range []map[string][]*Subscriber{r.serial, r.concurrent} {
		for _, subs := range idx {
			for _, s := range subs {
				seen[s.id] = struct{}{}
			}
		}
	}
	return len(seen)
}

// BindOwner records an unsubscribe callback against an owner object.
func (r *Registry) BindOwner(owner any, unsub func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[owner] = append(r.owners[owner], unsub)
}

// RemoveAllListeners synchronously invokes and clears every unsubscribe
// recorded against the owner. This is the explicit-disposal half of the
// owner lifetime contract: the owner's teardown path must call it.
func (r *Registry) RemoveAllListeners(owner any) {
	r.mu.Lock()
	unsubs := r.owners[owner]
	delete(r.owners, owner)
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
