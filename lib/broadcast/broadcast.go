// Package broadcast fans progress events out to the set of currently
// connected observers.
package broadcast

import (
	"sync"
	"time"
)

// Event is one progress update as delivered to observers. Timestamp is
// seconds since the Unix epoch, fractional.
type Event struct {
	Message   string  `json:"message"`
	Progress  int     `json:"progress"`
	Timestamp float64 `json:"timestamp"`
}

// NewEvent stamps a message and progress percentage with the current time.
func NewEvent(message string, progress int) Event {
	return Event{
		Message:   message,
		Progress:  progress,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Observer receives events. Deliver may be called concurrently with itself
// for different events; implementations own their channel and its locking.
type Observer interface {
	Deliver(Event) error
}

// Broadcaster maintains the observer set and delivers events to all members.
// Membership is a set: insertion order carries no meaning. The broadcaster
// holds non-owning references; the transport layer subscribes on connect and
// unsubscribes on disconnect.
type Broadcaster struct {
	mu        sync.Mutex
	observers map[Observer]struct{}
}

func New() *Broadcaster {
	return &Broadcaster{observers: make(map[Observer]struct{})}
}

// Subscribe adds an observer to the set.
func (b *Broadcaster) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[o] = struct{}{}
}

// Unsubscribe removes an observer. Removing an absent observer is a no-op.
func (b *Broadcaster) Unsubscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, o)
}

// Count returns the current number of subscribed observers.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

// Publish delivers the event to every currently subscribed observer,
// concurrently. A delivery failure (closed connection, slow client that
// errored out) is swallowed: it affects neither the other observers nor the
// caller. There is no buffering of undelivered events.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]Observer, 0, len(b.observers))
	for o := range b.observers {
		targets = append(targets, o)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range targets {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			_ = o.Deliver(ev)
		}(o)
	}
	wg.Wait()
}
