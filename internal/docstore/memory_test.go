package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewMemoryStore(WithPublisher(pub))

	rec, err := s.Create(ctx, "games", UniqueID, map[string]interface{}{
		"code":    "AB12",
		"players": []string{"a:Alice"},
		"status":  "waiting",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.NotEqual(t, UniqueID, rec.ID)

	_, err = s.Create(ctx, "games", rec.ID, map[string]interface{}{})
	assert.ErrorIs(t, err, ErrConflict)

	updated, err := s.Update(ctx, "games", rec.ID, map[string]interface{}{"status": "in-progress"})
	require.NoError(t, err)
	assert.Equal(t, "in-progress", updated.String("status"))
	assert.Equal(t, []string{"a:Alice"}, updated.Strings("players"), "update merges, untouched fields survive")

	got, err := s.Get(ctx, "games", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "AB12", got.String("code"))

	require.NoError(t, s.Delete(ctx, "games", rec.ID))
	_, err = s.Get(ctx, "games", rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, "games", rec.ID, map[string]interface{}{"status": "waiting"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []EventKind{EventCreated, EventUpdated, EventDeleted}, pub.kinds())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	players := []string{"a:Alice"}
	rec, err := s.Create(ctx, "games", "g1", map[string]interface{}{"players": players})
	require.NoError(t, err)

	players[0] = "mutated"
	rec.Fields["players"].([]string)[0] = "mutated too"

	got, err := s.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:Alice"}, got.Strings("players"))
}

func TestMemoryStoreListFiltersInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, p := range []struct{ id, game string }{{"p1", "g1"}, {"p2", "g2"}, {"p3", "g1"}, {"p4", "global"}} {
		_, err := s.Create(ctx, "prompts", p.id, map[string]interface{}{"text": p.id, "gameId": p.game})
		require.NoError(t, err)
	}

	recs, err := s.List(ctx, "prompts", Equal("gameId", "g1"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "p1", recs[0].ID)
	assert.Equal(t, "p3", recs[1].ID)

	all, err := s.List(ctx, "prompts")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.List(ctx, "prompts", Equal("gameId", "g1"), Equal("text", "p2"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Create(ctx, "answers", "a1", map[string]interface{}{"votes": 0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "answers", "a1", "votes", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "answers", "a1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Int("votes"))
}

func TestMemoryStoreSchemaRejectsUnknownAttribute(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithSchema(Schema{"games": {"code", "players", "status"}}))

	_, err := s.Create(ctx, "games", "g1", map[string]interface{}{"code": "X", "round": 1, "hostId": "a"})
	require.Error(t, err)
	attr, ok := UnknownAttribute(err)
	require.True(t, ok)
	assert.Equal(t, "hostId", attr, "first unknown attribute in alphabetical order")

	_, err = s.Create(ctx, "other", "o1", map[string]interface{}{"anything": true})
	assert.NoError(t, err, "collections without a schema accept any field")
}

func TestUnknownAttributeParsesBackendMessages(t *testing.T) {
	attr, ok := UnknownAttribute(errors.New(`Invalid document structure: Unknown attribute: "submittedPrompts"`))
	require.True(t, ok)
	assert.Equal(t, "submittedPrompts", attr)

	attr, ok = UnknownAttribute(errors.New("unknown attribute hostId"))
	require.True(t, ok)
	assert.Equal(t, "hostId", attr)

	_, ok = UnknownAttribute(errors.New("network unreachable"))
	assert.False(t, ok)
	_, ok = UnknownAttribute(nil)
	assert.False(t, ok)
}

func TestRecordNumericDecoding(t *testing.T) {
	r := &Record{Fields: map[string]interface{}{
		"a": 3,
		"b": float64(4),
		"c": int64(5),
		"d": "nope",
		"l": []interface{}{"x", 1, "y"},
	}}
	assert.Equal(t, 3, r.Int("a"))
	assert.Equal(t, 4, r.Int("b"))
	assert.Equal(t, 5, r.Int("c"))
	assert.Equal(t, 0, r.Int("d"))
	assert.Equal(t, 0, r.Int("missing"))
	assert.Equal(t, []string{"x", "y"}, r.Strings("l"))
	assert.True(t, r.Has("d"))
	assert.False(t, r.Has("missing"))
}
