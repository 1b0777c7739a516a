package forking

import (
	"fmt"
	"log"
	"sync"

	"github.com/orneryd/quadfork/pkg/metrics"
	"github.com/orneryd/quadfork/pkg/rdf"
)

// ObserverFunc receives one batched change set. A returned error (or a panic)
// is logged and does not stop other observers from being called.
type ObserverFunc func(changes rdf.Changes) error

// Observer is a registered callback. The pointer itself is the observer's
// identity: registering without an explicit key uses it as the key.
type Observer struct {
	fn ObserverFunc
}

// NewObserver wraps fn in a handle with its own identity.
func NewObserver(fn ObserverFunc) *Observer {
	return &Observer{fn: fn}
}

// Key returns the identity key of o.
func (o *Observer) Key() Key {
	return Key{handle: o}
}

// Key identifies an observer registration. It is either a name or an
// observer handle compared by pointer. The zero Key means "no key".
type Key struct {
	name   string
	handle *Observer
}

// NamedKey returns a key for name. NamedKey("") is the zero Key.
func NamedKey(name string) Key {
	return Key{name: name}
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.name == "" && k.handle == nil
}

func (k Key) String() string {
	if k.handle != nil {
		return fmt.Sprintf("observer(%p)", k.handle)
	}
	return k.name
}

type observerEntry struct {
	key      Key
	observer *Observer
}

// observerRegistry keeps registrations in insertion order. Re-registering a
// key replaces its observer in place.
type observerRegistry struct {
	mu      sync.RWMutex
	entries []observerEntry
}

func (r *observerRegistry) register(o *Observer, key Key) {
	if key.IsZero() {
		key = o.Key()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].key == key {
			r.entries[i].observer = o
			return
		}
	}
	r.entries = append(r.entries, observerEntry{key: key, observer: o})
}

func (r *observerRegistry) deregister(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].key == key {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *observerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

func (r *observerRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *observerRegistry) snapshot() []observerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]observerEntry(nil), r.entries...)
}

// inform calls every observer once, in registration order.
func (r *observerRegistry) inform(changes rdf.Changes) {
	metrics.CounterNotifications.Inc()
	for _, e := range r.snapshot() {
		if err := callObserver(e.observer, changes); err != nil {
			metrics.CounterObserverFailures.Inc()
			log.Printf("[forking] Something went wrong during the callback of observer %s: %v", e.key, err)
		}
	}
}

func callObserver(o *Observer, changes rdf.Changes) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.fn(changes)
}
