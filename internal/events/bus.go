// Package events is a typed publish/subscribe channel shared by the attendance components.
package events

import (
	"context"
	"log"
	"sync"
)

// Topic names a stream of events of type T
// ARCHITECTURAL DISCOVERY: The type parameter ties publishers and subscribers of one
// topic to the same payload type at compile time
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name
func (t Topic[T]) Name() string { return t.name }

type envelope struct {
	topic   string
	payload any
}

type subscriber struct {
	id      uint64
	deliver func(any) bool
	close   func()
}

// Bus fans published events out to subscribers from a single dispatch goroutine
// FUNCTIONAL DISCOVERY: Publishing never blocks on a slow subscriber; a full
// subscriber buffer drops the event for that subscriber only
type Bus struct {
	queue           chan envelope
	shutdownChannel chan struct{}
	done            chan struct{}

	mu          sync.RWMutex
	running     bool
	nextID      uint64
	subscribers map[string][]*subscriber
	dropped     uint64
}

// NewBus creates a bus with the given queue capacity
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Bus{
		queue:       make(chan envelope, queueSize),
		subscribers: make(map[string][]*subscriber),
	}
}

// Start launches the dispatch loop
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBusAlreadyRunning
	}
	b.running = true
	b.shutdownChannel = make(chan struct{})
	b.done = make(chan struct{})
	shutdown, done := b.shutdownChannel, b.done
	b.mu.Unlock()

	go b.run(ctx, shutdown, done)
	return nil
}

// Stop ends the dispatch loop and closes every subscription
// Events still queued are delivered before subscriptions close.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBusNotRunning
	}
	b.running = false
	close(b.shutdownChannel)
	done := b.done
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	for name, subs := range b.subscribers {
		for _, s := range subs {
			s.close()
		}
		delete(b.subscribers, name)
	}
	b.mu.Unlock()
	return nil
}

func (b *Bus) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	for {
		select {
		case env := <-b.queue:
			b.dispatch(env)
		case <-shutdown:
			b.drain()
			return
		case <-ctx.Done():
			log.Println("events: bus context cancelled")
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case env := <-b.queue:
			b.dispatch(env)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(env envelope) {
	b.mu.RLock()
	subs := b.subscribers[env.topic]
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(env.payload) {
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
}

// Dropped counts events discarded because a subscriber buffer was full
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) enqueue(topic string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return ErrBusNotRunning
	}

	select {
	case b.queue <- envelope{topic: topic, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bus) add(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s.id = b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], s)
}

func (b *Bus) remove(topic string, s *subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, existing := range subs {
		if existing.id == s.id {
			b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish queues v for every subscriber of topic
func Publish[T any](b *Bus, topic Topic[T], v T) error {
	return b.enqueue(topic.name, v)
}

// Subscribe returns a channel receiving events on topic and a cancel func
// The channel is closed by cancel or by Bus.Stop.
func Subscribe[T any](b *Bus, topic Topic[T], buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)
	var once sync.Once
	closeCh := func() { once.Do(func() { close(ch) }) }

	// TECHNICAL DISCOVERY: deliver and close share a lock so a cancel racing
	// the dispatch loop can never send on a closed channel
	var mu sync.Mutex
	closed := false
	s := &subscriber{
		deliver: func(payload any) bool {
			v, ok := payload.(T)
			if !ok {
				return false
			}
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return true
			}
			select {
			case ch <- v:
				return true
			default:
				return false
			}
		},
		close: func() {
			mu.Lock()
			defer mu.Unlock()
			closed = true
			closeCh()
		},
	}
	b.add(topic.name, s)

	cancel := func() {
		if b.remove(topic.name, s) {
			s.close()
		}
	}
	return ch, cancel
}
