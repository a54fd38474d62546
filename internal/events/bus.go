// Package events is a small in-process typed publish/subscribe bus.
//
// Delivery is synchronous: Publish returns after every subscriber of the event's
// type has run, in subscription order. A panicking subscriber is logged and the
// remaining subscribers still run. Subscribers run on the publisher's goroutine,
// often while the publisher holds a lock, so they must not block.
package events

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/real-rm/supportchat/internal/util"
)

type subscriber struct {
	id uint64
	fn func(any)
}

// Bus routes events to subscribers by the event's Go type
type Bus struct {
	mu     sync.RWMutex
	subs   map[reflect.Type][]subscriber
	nextID uint64
	logger *slog.Logger
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[reflect.Type][]subscriber),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers fn for every published event of type E and returns a
// function that removes the subscription. Calling it more than once is harmless.
func Subscribe[E any](b *Bus, fn func(E)) (unsubscribe func()) {
	key := reflect.TypeFor[E]()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	// copy on write so Publish can iterate a snapshot without the lock
	current := b.subs[key]
	next := make([]subscriber, len(current), len(current)+1)
	copy(next, current)
	b.subs[key] = append(next, subscriber{id: id, fn: func(e any) { fn(e.(E)) }})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(key, id) })
	}
}

func (b *Bus) remove(key reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[key]
	next := make([]subscriber, 0, len(current))
	for _, s := range current {
		if s.id != id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.subs, key)
		return
	}
	b.subs[key] = next
}

// Publish delivers e to every subscriber of type E
func Publish[E any](b *Bus, e E) {
	if b == nil {
		return
	}
	key := reflect.TypeFor[E]()

	b.mu.RLock()
	subs := b.subs[key]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(key, s, e)
	}
}

func (b *Bus) deliver(key reflect.Type, s subscriber, e any) {
	defer util.Recover(b.logger, "events:"+key.String())
	s.fn(e)
}

// SubscriberCount returns the number of subscribers for events of type E
func SubscriberCount[E any](b *Bus) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[E]()])
}
