// internal/gateway/gateway.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/sirupsen/logrus"
)

// DefaultMaxAttempts bounds how many times a write is tried while pruning
// unknown attributes.
const DefaultMaxAttempts = 3

// ErrRetriesExhausted is returned when every attempt of a write was rejected
// for an unknown attribute.
var ErrRetriesExhausted = apperr.Transient("Could not save your changes. Please try again later.", nil)

// ErrAllFieldsRejected is wrapped into ErrRetriesExhausted when pruning left
// nothing to write. The store is not called with an empty payload, so no
// change event is produced.
var ErrAllFieldsRejected = errors.New("backend rejected every field of the write")

// Gateway fronts the document store and change feed for one client session.
// Writes tolerate a backend schema that lags the client's field set by
// dropping the fields it rejects; subscriptions are tracked so the session
// can tear them all down at once.
type Gateway struct {
	store       docstore.Store
	feed        changefeed.Feed
	maxAttempts int
	logger      *logrus.Logger

	mu     sync.Mutex
	subs   map[int]*registration
	nextID int
}

type registration struct {
	topic changefeed.Topic
	unsub changefeed.Unsubscribe
	once  sync.Once
	err   error
}

func (r *registration) close() error {
	r.once.Do(func() { r.err = r.unsub() })
	return r.err
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *logrus.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New returns a gateway over store and feed.
func New(store docstore.Store, feed changefeed.Feed, opts ...Option) *Gateway {
	g := &Gateway{
		store:       store,
		feed:        feed,
		maxAttempts: DefaultMaxAttempts,
		logger:      logrus.StandardLogger(),
		subs:        make(map[int]*registration),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateRecord creates a document, pruning fields the backend rejects.
func (g *Gateway) CreateRecord(ctx context.Context, collection, id string, fields map[string]interface{}) (*docstore.Record, error) {
	return g.write(ctx, "create", collection, id, fields, func(payload map[string]interface{}) (*docstore.Record, error) {
		return g.store.Create(ctx, collection, id, payload)
	})
}

// UpdateRecord merges fields into a document, pruning fields the backend
// rejects.
func (g *Gateway) UpdateRecord(ctx context.Context, collection, id string, fields map[string]interface{}) (*docstore.Record, error) {
	return g.write(ctx, "update", collection, id, fields, func(payload map[string]interface{}) (*docstore.Record, error) {
		return g.store.Update(ctx, collection, id, payload)
	})
}

func (g *Gateway) write(ctx context.Context, op, collection, id string, fields map[string]interface{}, do func(map[string]interface{}) (*docstore.Record, error)) (*docstore.Record, error) {
	payload := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		payload[k] = v
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		rec, err := do(payload)
		if err == nil {
			return rec, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s/%s: %w", op, collection, id, ctxErr)
		}
		attr, ok := docstore.UnknownAttribute(err)
		if !ok {
			return nil, fmt.Errorf("%s %s/%s: %w", op, collection, id, err)
		}
		// only retry if pruning changes the payload
		if _, present := payload[attr]; !present {
			return nil, fmt.Errorf("%s %s/%s: %w", op, collection, id, err)
		}
		g.logger.WithFields(logrus.Fields{
			"op":         op,
			"collection": collection,
			"id":         id,
			"attribute":  attr,
			"attempt":    attempt,
		}).Warn("backend rejected attribute, retrying without it")
		delete(payload, attr)
		lastErr = err
		if len(payload) == 0 {
			return nil, apperr.Wrap(ErrRetriesExhausted, fmt.Errorf("%s %s/%s: %w: %w", op, collection, id, ErrAllFieldsRejected, err))
		}
	}
	return nil, apperr.Wrap(ErrRetriesExhausted, fmt.Errorf("%s %s/%s: %w", op, collection, id, lastErr))
}

// GetRecord fetches a single document.
func (g *Gateway) GetRecord(ctx context.Context, collection, id string) (*docstore.Record, error) {
	rec, err := g.store.Get(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// ListRecords lists the documents of collection matching every filter.
func (g *Gateway) ListRecords(ctx context.Context, collection string, filters ...docstore.Filter) ([]*docstore.Record, error) {
	recs, err := g.store.List(ctx, collection, filters...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return recs, nil
}

// DeleteRecord removes a document.
func (g *Gateway) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := g.store.Delete(ctx, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Increment adds delta to a numeric field. Stores implementing
// docstore.Incrementer do it atomically; for others this falls back to a
// read-modify-write that can lose concurrent increments.
func (g *Gateway) Increment(ctx context.Context, collection, id, field string, delta int) (*docstore.Record, error) {
	if inc, ok := g.store.(docstore.Incrementer); ok {
		rec, err := inc.Increment(ctx, collection, id, field, delta)
		if err != nil {
			return nil, fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
		}
		return rec, nil
	}

	g.logger.WithFields(logrus.Fields{
		"collection": collection,
		"id":         id,
		"field":      field,
	}).Warn("store has no atomic increment, falling back to read-modify-write")
	rec, err := g.GetRecord(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return g.UpdateRecord(ctx, collection, id, map[string]interface{}{field: rec.Int(field) + delta})
}

// Subscribe registers handler for topic. The subscription stays in the
// gateway registry until its Unsubscribe is called or CloseAll runs.
func (g *Gateway) Subscribe(ctx context.Context, topic changefeed.Topic, handler changefeed.Handler) (changefeed.Unsubscribe, error) {
	if g.feed == nil {
		return nil, errors.New("gateway has no change feed")
	}
	unsub, err := g.feed.Subscribe(ctx, topic, handler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	reg := &registration{topic: topic, unsub: unsub}

	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = reg
	g.mu.Unlock()

	g.logger.WithField("topic", topic.String()).Debug("subscribed")

	return func() error {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
		return reg.close()
	}, nil
}

// Active returns the number of registered subscriptions.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// CloseAll tears down every registered subscription. Teardown errors are
// logged, never returned.
func (g *Gateway) CloseAll() {
	g.Detach()()
}

// Detach empties the registry and returns a func closing the subscriptions
// that were in it. Subscriptions made after Detach returns are untouched by
// the returned func, so it may run later from another goroutine.
func (g *Gateway) Detach() func() {
	g.mu.Lock()
	regs := make([]*registration, 0, len(g.subs))
	for _, reg := range g.subs {
		regs = append(regs, reg)
	}
	g.subs = make(map[int]*registration)
	g.mu.Unlock()

	return func() {
		for _, reg := range regs {
			if err := reg.close(); err != nil {
				g.logger.WithField("topic", reg.topic.String()).Warnf("error cleaning up subscription: %v", err)
			}
		}
		if len(regs) > 0 {
			g.logger.Debugf("closed %d subscriptions", len(regs))
		}
	}
}
