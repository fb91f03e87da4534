package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is a minimal in-memory publish/subscribe event bus. Subscribers
// receive every published event; filtering happens on the subscriber side.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
	asyncCh     chan Event
	stopCh      chan struct{}
	stopped     bool
	wg          sync.WaitGroup
}

// NewBus creates and starts a new event bus. The async queue is bounded;
// PublishAsync drops events when the queue is full rather than blocking
// pipeline workers.
func NewBus() *Bus {
	b := &Bus{
		subscribers: make(map[string]Handler),
		asyncCh:     make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Subscribe registers a handler and returns a subscription id for
// Unsubscribe.
func (b *Bus) Subscribe(h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	b.subscribers[id] = h
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Publish delivers the event synchronously to all subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// PublishAsync queues the event for delivery without blocking the caller.
// Returns false if the event was dropped because the queue is full or the
// bus is stopped.
func (b *Bus) PublishAsync(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	stopped := b.stopped
	b.mu.RUnlock()
	if stopped {
		return false
	}

	select {
	case b.asyncCh <- event:
		return true
	default:
		return false
	}
}

// Stop shuts down the dispatch loop after draining queued events.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.asyncCh:
			b.Publish(event)
		case <-b.stopCh:
			// Drain whatever is left before exiting.
			for {
				select {
				case event := <-b.asyncCh:
					b.Publish(event)
				default:
					return
				}
			}
		}
	}
}
