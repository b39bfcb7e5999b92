package engine

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxClosedTopics bounds how many closed topics are remembered.
const maxClosedTopics = 1024

// EventBroker fans out per-connection event lines to subscribers. It is safe
// for concurrent use and satisfies shed.EventSink.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever. Only the most recent
// maxClosedTopics markers are kept.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
	closed []string
}

type eventTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Open registers a topic so that events published before the first
// subscriber arrives are not rejected as unknown. It is a no-op for a topic
// that already exists.
func (b *EventBroker) Open(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = &eventTopic{subs: make(map[int]chan string)}
	}
}

// Subscribe returns a channel that receives event lines for the given topic
// and an unsubscribe function. If the topic was closed, the returned channel
// is immediately closed.
func (b *EventBroker) Subscribe(topic string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan string)}
		b.topics[topic] = t
	}

	ch := make(chan string, subscriberBufferSize)
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

// Publish sends an event line to all subscribers of the given topic.
// Lines are dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(topic, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Drop line for slow subscribers to avoid blocking the shed.
		}
	}
}

// Close signals that no more events will be published for the topic. All
// subscriber channels are closed and future Subscribe calls return a closed
// channel.
func (b *EventBroker) Close(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan string)}
		b.topics[topic] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	b.closed = append(b.closed, topic)
	if len(b.closed) > maxClosedTopics {
		delete(b.topics, b.closed[0])
		b.closed = b.closed[1:]
	}
}
