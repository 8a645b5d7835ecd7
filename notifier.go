package midisf

import (
	"sync"

	"github.com/google/uuid"
)

// EventAudioInterrupted is the only currently defined event name.
const EventAudioInterrupted = "audioInterrupted"

// Event is one asynchronous notification pushed to subscribers whenever
// the session manager changes interruption state.
type Event struct {
	Event       string `json:"event"`
	Interrupted bool   `json:"interrupted"`
}

const subscriberBuffer = 8

// Notifier broadcasts session events to subscribers. There is no replay
// for late subscribers and no delivery guarantee beyond "a subscriber
// receives events emitted after it subscribed"; a subscriber that stops
// draining its channel loses events rather than blocking the emitter.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a listener and returns its id plus the event
// channel. The usual deployment has a single subscriber, but multiple
// are supported.
func (n *Notifier) Subscribe() (string, <-chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)
	n.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. Unknown ids are
// a no-op.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(ch)
	}
}

// Publish fans the event out to all current subscribers without
// blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}
