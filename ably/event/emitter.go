// Package event provides a typed, keyed listener registry used to fan out
// channel state, message, and presence events.
//
// Listeners fire synchronously in registration order. Emit works on a
// snapshot of the registry, so listeners may subscribe or unsubscribe
// themselves or others while an emission is running. A listener removed
// before its turn in a running emission is skipped. Emission is not
// serialized by the Emitter; callers that emit from several goroutines
// must serialize per emitter.
package event

import (
	"sync"
	"sync/atomic"
)

type entry[K comparable, P any] struct {
	id       uint64
	key      K
	all      bool
	once     bool
	listener func(P)
	removed  atomic.Bool
}

// Emitter is a registry of listeners keyed by K receiving payloads of type P.
// The zero value is ready to use.
type Emitter[K comparable, P any] struct {
	lock    sync.Mutex
	nextID  uint64
	entries []*entry[K, P]
}

// Subscription is the handle returned when a listener is registered.
type Subscription struct {
	off func() bool
}

// Unsubscribe removes the listener. It reports whether the listener was
// still registered.
func (subscription *Subscription) Unsubscribe() bool {
	if subscription == nil || subscription.off == nil {
		return false
	}
	return subscription.off()
}

// NewEmitter returns an empty Emitter.
func NewEmitter[K comparable, P any]() *Emitter[K, P] {
	return &Emitter[K, P]{}
}

func (emitter *Emitter[K, P]) add(key K, all bool, once bool, listener func(P)) *Subscription {
	if emitter == nil || listener == nil {
		return &Subscription{}
	}
	emitter.lock.Lock()
	emitter.nextID++
	added := &entry[K, P]{
		id:       emitter.nextID,
		key:      key,
		all:      all,
		once:     once,
		listener: listener,
	}
	emitter.entries = append(emitter.entries, added)
	emitter.lock.Unlock()

	return &Subscription{off: func() bool {
		return emitter.remove(added)
	}}
}

func (emitter *Emitter[K, P]) remove(target *entry[K, P]) bool {
	emitter.lock.Lock()
	defer emitter.lock.Unlock()
	for index, candidate := range emitter.entries {
		if candidate == target {
			candidate.removed.Store(true)
			emitter.entries = append(emitter.entries[:index:index], emitter.entries[index+1:]...)
			return true
		}
	}
	return false
}

// On registers a persistent listener for key.
func (emitter *Emitter[K, P]) On(key K, listener func(P)) *Subscription {
	return emitter.add(key, false, false, listener)
}

// Once registers a listener for key that is removed after it first fires.
func (emitter *Emitter[K, P]) Once(key K, listener func(P)) *Subscription {
	return emitter.add(key, false, true, listener)
}

// OnAll registers a persistent listener for every key.
func (emitter *Emitter[K, P]) OnAll(listener func(P)) *Subscription {
	var zero K
	return emitter.add(zero, true, false, listener)
}

// OnceAll registers a listener for every key that is removed after it first fires.
func (emitter *Emitter[K, P]) OnceAll(listener func(P)) *Subscription {
	var zero K
	return emitter.add(zero, true, true, listener)
}

// Off removes the listener behind subscription.
func (emitter *Emitter[K, P]) Off(subscription *Subscription) bool {
	return subscription.Unsubscribe()
}

// OffKey removes every listener registered for key. Listeners registered
// for all keys are kept.
func (emitter *Emitter[K, P]) OffKey(key K) {
	if emitter == nil {
		return
	}
	emitter.lock.Lock()
	defer emitter.lock.Unlock()
	kept := emitter.entries[:0:0]
	for _, candidate := range emitter.entries {
		if !candidate.all && candidate.key == key {
			candidate.removed.Store(true)
			continue
		}
		kept = append(kept, candidate)
	}
	emitter.entries = kept
}

// OffAll removes every listener.
func (emitter *Emitter[K, P]) OffAll() {
	if emitter == nil {
		return
	}
	emitter.lock.Lock()
	for _, candidate := range emitter.entries {
		candidate.removed.Store(true)
	}
	emitter.entries = nil
	emitter.lock.Unlock()
}

// Len returns the number of listeners that would fire for key.
func (emitter *Emitter[K, P]) Len(key K) int {
	if emitter == nil {
		return 0
	}
	emitter.lock.Lock()
	defer emitter.lock.Unlock()
	count := 0
	for _, candidate := range emitter.entries {
		if candidate.all || candidate.key == key {
			count++
		}
	}
	return count
}

// Emit invokes the listeners registered for key, and those registered for
// all keys, in registration order.
func (emitter *Emitter[K, P]) Emit(key K, payload P) {
	if emitter == nil {
		return
	}
	emitter.lock.Lock()
	snapshot := make([]*entry[K, P], 0, len(emitter.entries))
	for _, candidate := range emitter.entries {
		if candidate.all || candidate.key == key {
			snapshot = append(snapshot, candidate)
		}
	}
	emitter.lock.Unlock()

	for _, candidate := range snapshot {
		if candidate.once {
			if !candidate.removed.CompareAndSwap(false, true) {
				continue
			}
			emitter.lock.Lock()
			for index, registered := range emitter.entries {
				if registered == candidate {
					emitter.entries = append(emitter.entries[:index:index], emitter.entries[index+1:]...)
					break
				}
			}
			emitter.lock.Unlock()
		} else if candidate.removed.Load() {
			continue
		}
		candidate.listener(payload)
	}
}
