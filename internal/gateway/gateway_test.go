package gateway

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// textualStore mimics a hosted backend that reports schema problems only as
// message text, and counts calls.
type textualStore struct {
	docstore.Store
	allowed map[string]bool
	calls   int
}

func (s *textualStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*docstore.Record, error) {
	s.calls++
	for k := range fields {
		if !s.allowed[k] {
			return nil, errors.New(`AppwriteException: Invalid document structure: Unknown attribute: "` + k + `"`)
		}
	}
	return s.Store.Update(ctx, collection, id, fields)
}

// plainStore hides MemoryStore's Increment.
type plainStore struct {
	docstore.Store
}

func TestUpdatePrunesUnknownAttribute(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(docstore.WithSchema(docstore.Schema{
		"games": {"code", "status", "players"},
	}))
	gw := New(store, nil, WithLogger(quietLogger()))

	rec, err := gw.CreateRecord(ctx, "games", docstore.UniqueID, map[string]interface{}{
		"code":   "ABCD",
		"status": "waiting",
		"round":  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "ABCD", rec.String("code"))
	assert.False(t, rec.Has("round"))

	rec, err = gw.UpdateRecord(ctx, "games", rec.ID, map[string]interface{}{
		"status":        "in-progress",
		"round":         2,
		"currentPrompt": "Why?",
	})
	require.NoError(t, err)
	assert.Equal(t, "in-progress", rec.String("status"))
	assert.False(t, rec.Has("round"))
	assert.False(t, rec.Has("currentPrompt"))
}

func TestWriteDoesNotMutateCallerFields(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(docstore.WithSchema(docstore.Schema{"games": {"code"}}))
	gw := New(store, nil, WithLogger(quietLogger()))

	fields := map[string]interface{}{"code": "ABCD", "round": 1}
	_, err := gw.CreateRecord(ctx, "games", docstore.UniqueID, fields)
	require.NoError(t, err)
	assert.Contains(t, fields, "round")
}

func TestUpdateExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	rec, err := mem.Create(ctx, "games", "g1", map[string]interface{}{"status": "waiting"})
	require.NoError(t, err)

	store := &textualStore{Store: mem, allowed: map[string]bool{"status": true}}
	gw := New(store, nil, WithLogger(quietLogger()))

	_, err = gw.UpdateRecord(ctx, "games", rec.ID, map[string]interface{}{
		"status": "in-progress",
		"a":      1,
		"b":      2,
		"c":      3,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.Equal(t, DefaultMaxAttempts, store.calls)

	got, err := mem.Get(ctx, "games", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "waiting", got.String("status"), "nothing written")
}

// countingPublisher counts change events.
type countingPublisher struct {
	events int
}

func (p *countingPublisher) Publish(context.Context, docstore.Event) error {
	p.events++
	return nil
}

func TestUpdateStopsWhenEveryFieldIsPruned(t *testing.T) {
	ctx := context.Background()
	pub := &countingPublisher{}
	store := docstore.NewMemoryStore(
		docstore.WithSchema(docstore.Schema{"games": {"code", "status", "players"}}),
		docstore.WithPublisher(pub),
	)
	_, err := store.Create(ctx, "games", "g1", map[string]interface{}{"status": "waiting"})
	require.NoError(t, err)
	created := pub.events

	gw := New(store, nil, WithLogger(quietLogger()))
	_, err = gw.UpdateRecord(ctx, "games", "g1", map[string]interface{}{"hostId": "u1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllFieldsRejected))
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, created, pub.events, "an empty update must not reach the store")

	_, err = gw.CreateRecord(ctx, "games", "g2", map[string]interface{}{"round": 1})
	assert.True(t, errors.Is(err, ErrAllFieldsRejected))
	_, err = store.Get(ctx, "games", "g2")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestUpdateSucceedsOnLastAttempt(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	_, err := mem.Create(ctx, "games", "g1", map[string]interface{}{"status": "waiting"})
	require.NoError(t, err)

	store := &textualStore{Store: mem, allowed: map[string]bool{"status": true}}
	gw := New(store, nil, WithLogger(quietLogger()))

	rec, err := gw.UpdateRecord(ctx, "games", "g1", map[string]interface{}{"status": "in-progress", "a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, "in-progress", rec.String("status"))
	assert.Equal(t, 3, store.calls)
}

func TestUnknownAttributeNotInPayloadIsTerminal(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemoryStore()
	_, err := mem.Create(ctx, "games", "g1", map[string]interface{}{})
	require.NoError(t, err)

	// the backend complains about "other", which the payload does not carry
	store := &textualStore{Store: mem, allowed: map[string]bool{}}
	gw := New(&renamingStore{textualStore: store}, nil, WithLogger(quietLogger()))

	_, err = gw.UpdateRecord(ctx, "games", "g1", map[string]interface{}{"status": "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 1, store.calls)
}

type renamingStore struct {
	*textualStore
}

func (s *renamingStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*docstore.Record, error) {
	s.calls++
	return nil, errors.New(`Invalid document structure: Unknown attribute: "other"`)
}

func TestConflictIsNotRetried(t *testing.T) {
	ctx := context.Background()
	gw := New(docstore.NewMemoryStore(), nil, WithLogger(quietLogger()))

	_, err := gw.CreateRecord(ctx, "games", "g1", map[string]interface{}{"code": "A"})
	require.NoError(t, err)
	_, err = gw.CreateRecord(ctx, "games", "g1", map[string]interface{}{"code": "B"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, docstore.ErrConflict))
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]docstore.Store{
		"atomic":   docstore.NewMemoryStore(),
		"fallback": plainStore{docstore.NewMemoryStore()},
	} {
		t.Run(name, func(t *testing.T) {
			gw := New(store, nil, WithLogger(quietLogger()))
			_, err := gw.CreateRecord(ctx, "answers", "a1", map[string]interface{}{"votes": 0})
			require.NoError(t, err)

			_, err = gw.Increment(ctx, "answers", "a1", "votes", 1)
			require.NoError(t, err)
			rec, err := gw.Increment(ctx, "answers", "a1", "votes", 1)
			require.NoError(t, err)
			assert.Equal(t, 2, rec.Int("votes"))

			_, err = gw.Increment(ctx, "answers", "missing", "votes", 1)
			assert.True(t, errors.Is(err, docstore.ErrNotFound))
		})
	}
}

func TestSubscriptionRegistry(t *testing.T) {
	ctx := context.Background()
	broker := changefeed.NewBroker(quietLogger())
	gw := New(docstore.NewMemoryStore(docstore.WithPublisher(broker)), broker, WithLogger(quietLogger()))

	noop := func(docstore.Event) {}
	unsubGame, err := gw.Subscribe(ctx, changefeed.Document("games", "g1"), noop)
	require.NoError(t, err)
	_, err = gw.Subscribe(ctx, changefeed.Collection("answers"), noop)
	require.NoError(t, err)
	_, err = gw.Subscribe(ctx, changefeed.Collection("answers"), noop)
	require.NoError(t, err)
	assert.Equal(t, 3, gw.Active())
	assert.Equal(t, 3, broker.Subscribers())

	require.NoError(t, unsubGame())
	assert.Equal(t, 2, gw.Active())

	gw.CloseAll()
	assert.Equal(t, 0, gw.Active())
	assert.Equal(t, 0, broker.Subscribers())

	// calling an unsubscribe after CloseAll is harmless
	assert.NoError(t, unsubGame())
}

func TestDetachLeavesLaterSubscriptions(t *testing.T) {
	ctx := context.Background()
	broker := changefeed.NewBroker(quietLogger())
	gw := New(docstore.NewMemoryStore(docstore.WithPublisher(broker)), broker, WithLogger(quietLogger()))

	noop := func(docstore.Event) {}
	_, err := gw.Subscribe(ctx, changefeed.Document("games", "old"), noop)
	require.NoError(t, err)

	closeOld := gw.Detach()
	assert.Equal(t, 0, gw.Active())

	_, err = gw.Subscribe(ctx, changefeed.Document("games", "new"), noop)
	require.NoError(t, err)
	assert.Equal(t, 2, broker.Subscribers())

	// the old teardown runs late, after the new game subscribed
	closeOld()
	assert.Equal(t, 1, gw.Active())
	assert.Equal(t, 1, broker.Subscribers())
}

func TestSubscribeWithoutFeed(t *testing.T) {
	gw := New(docstore.NewMemoryStore(), nil, WithLogger(quietLogger()))
	_, err := gw.Subscribe(context.Background(), changefeed.Collection("games"), func(docstore.Event) {})
	assert.Error(t, err)
}
