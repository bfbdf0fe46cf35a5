package memory

import (
	"context"
	"sync"

	"github.com/aescanero/dago-probe/pkg/domain"
	"github.com/aescanero/dago-probe/pkg/ports"
)

// InMemoryEventBus implements EventBus using in-memory handlers.
// Each group on a topic receives every event; handlers inside a group take turns.
// Every subscription sees its events one at a time, in publish order.
type InMemoryEventBus struct {
	topics map[string]map[string]*group
	nextID uint64
	mu     sync.Mutex
}

type group struct {
	subscriptions []subscription
	next          int
}

type subscription struct {
	id  uint64
	box *mailbox
}

// mailbox queues events for one handler and delivers them from a single goroutine
type mailbox struct {
	mu      sync.Mutex
	pending []domain.Event
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push never blocks, so handlers may publish
func (m *mailbox) push(event domain.Event) {
	m.mu.Lock()
	m.pending = append(m.pending, event)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) next() (domain.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return domain.Event{}, false
	}
	event := m.pending[0]
	m.pending = m.pending[1:]
	return event, true
}

func (m *mailbox) run(ctx context.Context, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			default:
			}

			event, ok := m.next()
			if !ok {
				break
			}
			// Handler errors are theirs to log
			_ = handler(ctx, event)
		}
	}
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		topics: make(map[string]map[string]*group),
	}
}

// Publish delivers the event to one handler of every group subscribed to the topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, g := range e.topics[topic] {
		if len(g.subscriptions) == 0 {
			continue
		}
		g.subscriptions[g.next%len(g.subscriptions)].box.push(event)
		g.next++
	}

	return nil
}

// Subscribe registers a handler until ctx is cancelled
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic, groupName string, handler ports.EventHandler) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	groups, ok := e.topics[topic]
	if !ok {
		groups = make(map[string]*group)
		e.topics[topic] = groups
	}
	g, ok := groups[groupName]
	if !ok {
		g = &group{}
		groups[groupName] = g
	}

	e.nextID++
	id := e.nextID
	box := newMailbox()
	g.subscriptions = append(g.subscriptions, subscription{id: id, box: box})

	go box.run(ctx, handler)
	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, groupName, id)
	}()

	return nil
}

// Close drops all subscriptions
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, groups := range e.topics {
		for _, g := range groups {
			for _, sub := range g.subscriptions {
				sub.box.stop()
			}
		}
	}
	e.topics = make(map[string]map[string]*group)
	return nil
}

// unsubscribe removes a single subscription
func (e *InMemoryEventBus) unsubscribe(topic, groupName string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.topics[topic][groupName]
	if !ok {
		return
	}
	for i, s := range g.subscriptions {
		if s.id == id {
			s.box.stop()
			g.subscriptions = append(g.subscriptions[:i], g.subscriptions[i+1:]...)
			break
		}
	}
	if len(g.subscriptions) == 0 {
		delete(e.topics[topic], groupName)
	}
}
