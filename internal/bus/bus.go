package bus

import "sync"

// Handler receives the payload published on a topic.
type Handler func(payload any)

// Bus is a synchronous in-process publish/subscribe channel. All handlers
// for a topic run before Emit returns, in subscription order. A panicking
// handler is recovered individually so it cannot block delivery to the
// others or crash the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[Topic][]*subscription
	next uint64
}

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]*subscription)}
}

// On registers a handler for a topic and returns its subscription id.
func (b *Bus) On(topic Topic, fn Handler) uint64 {
	return b.add(topic, fn, false)
}

// Once registers a handler that is removed after its first delivery.
func (b *Bus) Once(topic Topic, fn Handler) uint64 {
	return b.add(topic, fn, true)
}

func (b *Bus) add(topic Topic, fn Handler, once bool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[topic] = append(b.subs[topic], &subscription{id: id, fn: fn, once: once})
	return id
}

// Off removes the subscription with the given id from a topic.
func (b *Bus) Off(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every handler subscribed to topic.
func (b *Bus) Emit(topic Topic, payload any) {
	b.mu.Lock()
	subs := b.subs[topic]
	handlers := make([]Handler, 0, len(subs))
	remaining := subs[:0:0]
	for _, s := range subs {
		handlers = append(handlers, s.fn)
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) != len(subs) {
		b.subs[topic] = remaining
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		safeCall(fn, payload)
	}
}

func safeCall(fn Handler, payload any) {
	defer func() { _ = recover() }()
	fn(payload)
}
