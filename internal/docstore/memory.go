// internal/docstore/memory.go
package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryStore keeps documents in process memory. It is the backend for local
// play and tests, and mirrors the optimistic, last-write-wins behaviour of a
// hosted document service.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]*Record
	seq         map[string]int64 // insertion order, for stable listing

	schema    Schema
	publisher Publisher
	logger    *logrus.Logger
	now       func() time.Time
	nextSeq   int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithSchema makes the store reject fields the schema does not list.
func WithSchema(s Schema) MemoryOption {
	return func(m *MemoryStore) { m.schema = s }
}

// WithPublisher forwards every mutation to p after it is applied.
func WithPublisher(p Publisher) MemoryOption {
	return func(m *MemoryStore) { m.publisher = p }
}

// WithLogger sets the logger used to report publish failures.
func WithLogger(l *logrus.Logger) MemoryOption {
	return func(m *MemoryStore) { m.logger = l }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		collections: make(map[string]map[string]*Record),
		seq:         make(map[string]int64),
		logger:      logrus.StandardLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.schema.Check(collection, fields); err != nil {
		return nil, err
	}
	id = resolveID(id)

	m.mu.Lock()
	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]*Record)
		m.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	now := m.now()
	rec := &Record{
		ID:         id,
		Collection: collection,
		Fields:     cloneFields(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	docs[id] = rec
	m.nextSeq++
	m.seq[collection+"/"+id] = m.nextSeq
	out := rec.Clone()
	m.mu.Unlock()

	m.publish(ctx, EventCreated, out)
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.schema.Check(collection, fields); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rec, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range fields {
		rec.Fields[k] = cloneValue(v)
	}
	rec.UpdatedAt = m.now()
	out := rec.Clone()
	m.mu.Unlock()

	m.publish(ctx, EventUpdated, out)
	return out, nil
}

// Increment adds delta to an integer field under the store lock, so
// concurrent increments never lose updates.
func (m *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta int) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rec, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	rec.Fields[field] = rec.Int(field) + delta
	rec.UpdatedAt = m.now()
	out := rec.Clone()
	m.mu.Unlock()

	m.publish(ctx, EventUpdated, out)
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	rec, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(m.collections[collection], id)
	delete(m.seq, collection+"/"+id)
	out := rec.Clone()
	m.mu.Unlock()

	m.publish(ctx, EventDeleted, out)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, collection string, filters ...Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, rec := range m.collections[collection] {
		if matchesAll(rec, filters) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[collection+"/"+out[i].ID] < m.seq[collection+"/"+out[j].ID]
	})
	return out, nil
}

func (m *MemoryStore) publish(ctx context.Context, kind EventKind, rec *Record) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, Event{Kind: kind, Record: rec}); err != nil {
		m.logger.WithFields(logrus.Fields{
			"collection": rec.Collection,
			"id":         rec.ID,
			"kind":       kind,
		}).Warnf("failed to publish change event: %v", err)
	}
}

func matchesAll(rec *Record, filters []Filter) bool {
	for _, f := range filters {
		if !f.matches(rec) {
			return false
		}
	}
	return true
}
