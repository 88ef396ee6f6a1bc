// Package notify is the in-process publish/subscribe channel between the
// timer, the sync coordinator and anything that renders their state.
//
// Delivery is fire-and-observe: Publish never blocks, and a subscriber whose
// buffer is full misses the event.
package notify

import (
	"sync"
	"time"
)

// EventType names a notification.
type EventType string

const (
	TimerStarted EventType = "timer.started"
	TimerStopped EventType = "timer.stopped"
	TimerTick    EventType = "timer.tick"
	TimerReset   EventType = "timer.reset"

	ActivitySynced    EventType = "activity.synced"
	LedgerEntrySynced EventType = "ledger_entry.synced"
	GoalSynced        EventType = "goal.synced"
)

// Event is a single notification. Fields that do not apply to the event type
// are left zero.
type Event struct {
	Type       EventType     `json:"type"`
	Time       time.Time     `json:"time"`
	ActivityID string        `json:"activity_id,omitempty"`
	Day        string        `json:"day,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns,omitempty"`
	EntityID   string        `json:"entity_id,omitempty"`
	Action     string        `json:"action,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) {}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
