package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// DefaultSubscriberBuffer is the channel size given to subscribers
const DefaultSubscriberBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Event
	dropped uint64
	log     zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a subscriber and returns its id and channel
func (b *Bus) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[b.nextID] = ch
	return b.nextID, ch
}

// Unsubscribe removes the subscriber and closes its channel
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers event to every subscriber with room in its buffer
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped++
			b.log.Debug().Int("subscriber", id).Str("event_type", string(event.Type)).Msg("Subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
