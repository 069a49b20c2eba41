// internal/changefeed/feed.go
package changefeed

import (
	"context"
	"fmt"
	"strings"

	"github.com/jason-s-yu/jestblank/internal/docstore"
)

// Topic addresses either a whole collection or a single document in it.
type Topic struct {
	Collection string
	DocumentID string
}

// Collection is a topic matching every document of collection.
func Collection(collection string) Topic {
	return Topic{Collection: collection}
}

// Document is a topic matching a single document.
func Document(collection, id string) Topic {
	return Topic{Collection: collection, DocumentID: id}
}

// Matches reports whether ev concerns the topic.
func (t Topic) Matches(ev docstore.Event) bool {
	if ev.Record == nil || ev.Record.Collection != t.Collection {
		return false
	}
	return t.DocumentID == "" || ev.Record.ID == t.DocumentID
}

func (t Topic) String() string {
	if t.DocumentID == "" {
		return t.Collection
	}
	return t.Collection + "/" + t.DocumentID
}

// Channel renders the topic as a realtime channel name scoped to database.
func (t Topic) Channel(database string) string {
	ch := fmt.Sprintf("databases.%s.collections.%s.documents", database, t.Collection)
	if t.DocumentID != "" {
		ch += "." + t.DocumentID
	}
	return ch
}

// ParseChannel is the inverse of Topic.Channel.
func ParseChannel(database, channel string) (Topic, error) {
	prefix := fmt.Sprintf("databases.%s.collections.", database)
	if !strings.HasPrefix(channel, prefix) {
		return Topic{}, fmt.Errorf("channel %q is not in database %q", channel, database)
	}
	parts := strings.Split(strings.TrimPrefix(channel, prefix), ".")
	switch {
	case len(parts) == 2 && parts[1] == "documents" && parts[0] != "":
		return Collection(parts[0]), nil
	case len(parts) == 3 && parts[1] == "documents" && parts[0] != "" && parts[2] != "":
		return Document(parts[0], parts[2]), nil
	default:
		return Topic{}, fmt.Errorf("malformed channel %q", channel)
	}
}

// Handler receives events for a subscription. Handlers of one subscription
// are invoked sequentially, never concurrently with each other.
type Handler func(ev docstore.Event)

// Unsubscribe tears a subscription down.
type Unsubscribe func() error

// Feed pushes create/update events for documents and collections. Delivery
// is at-most-once and unordered across subscriptions, so consumers re-derive
// state from the latest record instead of diffing.
type Feed interface {
	Subscribe(ctx context.Context, topic Topic, handler Handler) (Unsubscribe, error)
}
