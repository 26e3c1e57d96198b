package events

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventSandboxCreated  EventType = "sandbox.created"
	EventSandboxStopped  EventType = "sandbox.stopped"
	EventSandboxDeleted  EventType = "sandbox.deleted"
	EventSessionReady    EventType = "session.ready"
	EventSessionDegraded EventType = "session.degraded"
	EventSessionFailed   EventType = "session.failed"
	EventCargoCreated    EventType = "cargo.created"
	EventCargoDeleted    EventType = "cargo.deleted"
	EventGCReclaimed     EventType = "gc.reclaimed"
)

// Event is one lifecycle occurrence, published by the managers and the
// garbage collector.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Owner     string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes events to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses events rather than blocking the
// publisher.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish sends an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Default is the process-wide broker the managers publish to. It starts
// with Init and stays nil-safe before that: publishing to an uninitialized
// package is a no-op.
var (
	defaultMu     sync.RWMutex
	defaultBroker *Broker
)

// Init installs and starts the process-wide broker.
func Init() *Broker {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultBroker == nil {
		defaultBroker = NewBroker()
		defaultBroker.Start()
	}
	return defaultBroker
}

// Publish sends an event to the process-wide broker, if one is running.
func Publish(eventType EventType, owner string, metadata map[string]string) {
	defaultMu.RLock()
	b := defaultBroker
	defaultMu.RUnlock()
	if b == nil {
		return
	}
	b.Publish(&Event{Type: eventType, Owner: owner, Metadata: metadata})
}
