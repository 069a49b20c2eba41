// internal/changefeed/memory.go
package changefeed

import (
	"context"
	"sync"

	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/sirupsen/logrus"
)

// subscriptionBuffer bounds how far a slow subscriber may fall behind before
// events are dropped for it.
const subscriptionBuffer = 256

// Broker is an in-process feed. It doubles as the docstore.Publisher of a
// MemoryStore, so every write is fanned out to matching subscriptions.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	logger *logrus.Logger
}

type subscription struct {
	topic   Topic
	handler Handler
	ch      chan docstore.Event
	done    chan struct{}
	once    sync.Once
}

// NewBroker returns an empty broker.
func NewBroker(logger *logrus.Logger) *Broker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broker{
		subs:   make(map[int]*subscription),
		logger: logger,
	}
}

// Subscribe starts delivering matching events to handler on a dedicated
// goroutine until the returned Unsubscribe is called.
func (b *Broker) Subscribe(ctx context.Context, topic Topic, handler Handler) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		ch:      make(chan docstore.Event, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	return func() error {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		return nil
	}, nil
}

// Publish fans ev out to every matching subscription without blocking.
func (b *Broker) Publish(_ context.Context, ev docstore.Event) error {
	b.mu.RLock()
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.topic.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- docstore.Event{Kind: ev.Kind, Record: ev.Record.Clone()}:
		case <-sub.done:
		default:
			b.logger.WithFields(logrus.Fields{
				"topic": sub.topic.String(),
				"kind":  ev.Kind,
			}).Warn("subscriber buffer full, dropping change event")
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(ev)
		}
	}
}
