package launcher

import (
	"sync"

	"github.com/seantiz/procjoin/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventBroker fans out handle lifecycle events per run. It is safe for
// concurrent use.
//
// Closed topics are kept as markers so that a subscriber arriving after a run
// finished receives a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given run and an
// unsubscribe function. If the run has already finished, the returned channel
// is immediately closed.
func (b *EventBroker) Subscribe(runID string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Event)}
		b.topics[runID] = t
	}

	ch := make(chan model.Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its run. Events are dropped
// for subscribers whose buffers are full.
func (b *EventBroker) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.RunID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that no more events will be published for the given run.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *EventBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &eventTopic{subs: make(map[int]chan model.Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
