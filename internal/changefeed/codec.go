package changefeed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jason-s-yu/jestblank/internal/docstore"
)

// encode serializes an event for broker transports (redis, nats).
func encode(ev docstore.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (docstore.Event, error) {
	var ev docstore.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	if ev.Record == nil {
		return ev, fmt.Errorf("change event without record")
	}
	if ev.Record.Fields == nil {
		ev.Record.Fields = make(map[string]interface{})
	}
	return ev, nil
}

// RealtimeMessage is the frame exchanged with realtime websocket clients.
type RealtimeMessage struct {
	Type string          `json:"type"` // connected | event | error
	Data json.RawMessage `json:"data,omitempty"`
}

// RealtimeEvent is the data of an "event" frame.
type RealtimeEvent struct {
	Events    []string               `json:"events"`
	Channels  []string               `json:"channels"`
	Timestamp string                 `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// RealtimeConnected is the data of a "connected" frame.
type RealtimeConnected struct {
	Channels []string `json:"channels"`
}

// RealtimeError is the data of an "error" frame.
type RealtimeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var kindVerb = map[docstore.EventKind]string{
	docstore.EventCreated: "create",
	docstore.EventUpdated: "update",
	docstore.EventDeleted: "delete",
}

// ToRealtime renders ev as a realtime "event" frame. Document metadata rides
// in $-prefixed payload keys next to the fields.
func ToRealtime(database string, ev docstore.Event) (RealtimeMessage, error) {
	rec := ev.Record
	verb, ok := kindVerb[ev.Kind]
	if !ok {
		return RealtimeMessage{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	docChannel := Document(rec.Collection, rec.ID).Channel(database)
	payload := make(map[string]interface{}, len(rec.Fields)+4)
	for k, v := range rec.Fields {
		payload[k] = v
	}
	payload["$id"] = rec.ID
	payload["$collectionId"] = rec.Collection
	payload["$createdAt"] = rec.CreatedAt.Format(time.RFC3339Nano)
	payload["$updatedAt"] = rec.UpdatedAt.Format(time.RFC3339Nano)

	data, err := json.Marshal(RealtimeEvent{
		Events: []string{
			docChannel + "." + verb,
			fmt.Sprintf("databases.%s.collections.%s.documents.*.%s", database, rec.Collection, verb),
		},
		Channels:  []string{Collection(rec.Collection).Channel(database), docChannel},
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return RealtimeMessage{}, err
	}
	return RealtimeMessage{Type: "event", Data: data}, nil
}

// FromRealtime converts an "event" frame back into a docstore.Event.
func FromRealtime(data json.RawMessage) (docstore.Event, error) {
	var re RealtimeEvent
	if err := json.Unmarshal(data, &re); err != nil {
		return docstore.Event{}, fmt.Errorf("failed to unmarshal realtime event: %w", err)
	}
	var kind docstore.EventKind
	for _, name := range re.Events {
		for k, verb := range kindVerb {
			if strings.HasSuffix(name, "."+verb) {
				kind = k
			}
		}
		if kind != "" {
			break
		}
	}
	if kind == "" {
		return docstore.Event{}, fmt.Errorf("realtime event has no recognised kind: %v", re.Events)
	}

	rec := &docstore.Record{Fields: make(map[string]interface{}, len(re.Payload))}
	for k, v := range re.Payload {
		switch k {
		case "$id":
			rec.ID, _ = v.(string)
		case "$collectionId":
			rec.Collection, _ = v.(string)
		case "$createdAt":
			rec.CreatedAt = parseTime(v)
		case "$updatedAt":
			rec.UpdatedAt = parseTime(v)
		default:
			if !strings.HasPrefix(k, "$") {
				rec.Fields[k] = v
			}
		}
	}
	if rec.ID == "" || rec.Collection == "" {
		return docstore.Event{}, fmt.Errorf("realtime payload lacks document identity")
	}
	return docstore.Event{Kind: kind, Record: rec}, nil
}

func parseTime(v interface{}) time.Time {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
