// internal/docstore/store.go
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UniqueID asks the store to generate a fresh document id.
const UniqueID = "unique()"

// Record is one stored document.
type Record struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Fields     map[string]interface{} `json:"fields"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Filter is an equality constraint on a top-level field.
type Filter struct {
	Field string
	Value interface{}
}

// Equal builds an equality filter.
func Equal(field string, value interface{}) Filter {
	return Filter{Field: field, Value: value}
}

// Store is the document storage backend. Writes are optimistic: the last
// write to a document wins and there is no version token.
type Store interface {
	Create(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error)
	// Update merges fields into the existing document.
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*Record, error)
	Get(ctx context.Context, collection, id string) (*Record, error)
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, filters ...Filter) ([]*Record, error)
}

// Incrementer is implemented by stores that can add to a numeric field
// atomically on the storage side.
type Incrementer interface {
	Increment(ctx context.Context, collection, id, field string, delta int) (*Record, error)
}

// EventKind is the kind of mutation a change event describes.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is a single document mutation as seen by change-feed subscribers.
type Event struct {
	Kind   EventKind `json:"kind"`
	Record *Record   `json:"record"`
}

// Publisher receives every successful mutation of a store.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

func resolveID(id string) string {
	if id == "" || id == UniqueID {
		return NewID()
	}
	return id
}

// String returns the string field key, or "" if absent or not a string.
func (r *Record) String(key string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Fields[key].(string)
	return s
}

// Strings returns the list field key as strings.
func (r *Record) Strings(key string) []string {
	if r == nil {
		return nil
	}
	switch v := r.Fields[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int returns the numeric field key as an int. JSON-decoded numbers arrive
// as float64 or json.Number, both are handled.
func (r *Record) Int(key string) int {
	if r == nil {
		return 0
	}
	switch v := r.Fields[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// Has reports whether the field key is present.
func (r *Record) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.Fields[key]
	return ok
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = cloneFields(r.Fields)
	return &out
}

func (f Filter) matches(r *Record) bool {
	v, ok := r.Fields[f.Field]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.Value)
}

func cloneFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]interface{}:
		return cloneFields(t)
	default:
		return v
	}
}
