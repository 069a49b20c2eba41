package realtime

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	events []docstore.Event
}

func (s *sink) handle(ev docstore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sink) snapshot() []docstore.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]docstore.Event(nil), s.events...)
}

func setup(t *testing.T) (*docstore.MemoryStore, *changefeed.RealtimeFeed) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	broker := changefeed.NewBroker(logger)
	store := docstore.NewMemoryStore(docstore.WithPublisher(broker), docstore.WithLogger(logger))

	srv := httptest.NewServer(NewRelay(broker, "jest", "db", logger).Handler())
	t.Cleanup(srv.Close)
	return store, changefeed.NewRealtimeFeed(srv.URL, "jest", "db", logger)
}

func TestRelayForwardsDocumentEvents(t *testing.T) {
	ctx := context.Background()
	store, feed := setup(t)

	_, err := store.Create(ctx, "games", "g1", map[string]interface{}{"code": "AB12", "status": "waiting"})
	require.NoError(t, err)

	var got sink
	unsub, err := feed.Subscribe(ctx, changefeed.Document("games", "g1"), got.handle)
	require.NoError(t, err)

	_, err = store.Create(ctx, "games", "g2", map[string]interface{}{"code": "ZZ99"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "games", "g1", map[string]interface{}{"status": "in-progress"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ev := got.snapshot()[0]
	assert.Equal(t, docstore.EventUpdated, ev.Kind)
	assert.Equal(t, "g1", ev.Record.ID)
	assert.Equal(t, "in-progress", ev.Record.String("status"))
	assert.False(t, ev.Record.UpdatedAt.IsZero())

	require.NoError(t, unsub())
	_, err = store.Update(ctx, "games", "g1", map[string]interface{}{"status": "waiting"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, got.snapshot(), 1, "nothing after unsubscribe")
}

func TestRelayCollectionChannel(t *testing.T) {
	ctx := context.Background()
	store, feed := setup(t)

	var got sink
	unsub, err := feed.Subscribe(ctx, changefeed.Collection("answers"), got.handle)
	require.NoError(t, err)
	defer unsub()

	for _, id := range []string{"a1", "a2"} {
		_, err := store.Create(ctx, "answers", id, map[string]interface{}{"gameId": "g1", "votes": 0})
		require.NoError(t, err)
	}
	_, err = store.Increment(ctx, "answers", "a1", "votes", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	evs := got.snapshot()
	assert.Equal(t, docstore.EventCreated, evs[0].Kind)
	assert.Equal(t, docstore.EventUpdated, evs[2].Kind)
	assert.Equal(t, 1, evs[2].Record.Int("votes"))
}

func TestRelayRejectsBadRequests(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := httptest.NewServer(NewRelay(changefeed.NewBroker(logger), "jest", "db", logger).Handler())
	defer srv.Close()
	ctx := context.Background()

	wrongProject := changefeed.NewRealtimeFeed(srv.URL, "other", "db", logger)
	_, err := wrongProject.Subscribe(ctx, changefeed.Collection("games"), func(docstore.Event) {})
	assert.Error(t, err)

	wrongDatabase := changefeed.NewRealtimeFeed(srv.URL, "jest", "elsewhere", logger)
	_, err = wrongDatabase.Subscribe(ctx, changefeed.Collection("games"), func(docstore.Event) {})
	assert.Error(t, err)
}
