package connection

import (
	"sync"
	"time"
)

// EventType names a lifecycle notification.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventReconnected      EventType = "reconnected"
	EventError            EventType = "error"
	EventConnectionFailed EventType = "connectionFailed"
)

// Event is published on every lifecycle transition. Err is set for
// EventError and EventConnectionFailed.
type Event struct {
	Type EventType
	Err  error
	At   time.Time
}

// eventBus fans events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event.
type eventBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish reports how many subscribers dropped the event.
func (b *eventBus) publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	return dropped
}
