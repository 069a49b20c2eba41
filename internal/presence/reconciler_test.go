package presence

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Reconciler, *gateway.Gateway, *docstore.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := docstore.NewMemoryStore()
	gw := gateway.New(store, nil, gateway.WithLogger(logger))
	return NewReconciler(gw, "games", logger), gw, store
}

func seed(t *testing.T, store docstore.Store, id string, fields map[string]interface{}) {
	t.Helper()
	_, err := store.Create(context.Background(), "games", id, fields)
	require.NoError(t, err)
}

func TestReconcileResetsEmptyGame(t *testing.T) {
	ctx := context.Background()
	r, _, store := setup(t)
	seed(t, store, "g1", map[string]interface{}{"status": "in-progress", "players": []string{}})

	rec, _ := store.Get(ctx, "games", "g1")
	assert.True(t, r.Reconcile(ctx, models.GameFromRecord(rec)))

	rec, err := store.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, rec.String("status"))

	// already waiting: nothing to do
	assert.False(t, r.Reconcile(ctx, models.GameFromRecord(rec)))
}

func TestReconcileBackfillsHost(t *testing.T) {
	ctx := context.Background()
	r, _, store := setup(t)
	seed(t, store, "g1", map[string]interface{}{"status": "waiting", "players": []string{"x:X", "y:Y"}})

	rec, _ := store.Get(ctx, "games", "g1")
	assert.True(t, r.Reconcile(ctx, models.GameFromRecord(rec)))

	rec, err := store.Get(ctx, "games", "g1")
	require.NoError(t, err)
	assert.Equal(t, "x", rec.String("hostId"))
	assert.False(t, r.Reconcile(ctx, models.GameFromRecord(rec)))
}

// countingPublisher counts update events per document.
type countingPublisher struct {
	mu      sync.Mutex
	updates map[string]int
}

func (p *countingPublisher) Publish(_ context.Context, ev docstore.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Kind == docstore.EventUpdated {
		p.updates[ev.Record.ID]++
	}
	return nil
}

func (p *countingPublisher) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[id]
}

func TestBackfillWithoutHostAttribute(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pub := &countingPublisher{updates: make(map[string]int)}
	store := docstore.NewMemoryStore(
		docstore.WithSchema(docstore.Schema{"games": {"code", "status", "players", "submittedPrompts"}}),
		docstore.WithPublisher(pub),
	)
	r := NewReconciler(gateway.New(store, nil, gateway.WithLogger(logger)), "games", logger)
	seed(t, store, "g1", map[string]interface{}{"status": "in-progress", "players": []string{"x:X"}})

	rec, err := store.Get(ctx, "games", "g1")
	require.NoError(t, err)
	game := models.GameFromRecord(rec)

	// the first attempt is made and fails without writing
	assert.True(t, r.Reconcile(ctx, game))
	assert.Zero(t, pub.count("g1"))

	// every later observation of the same game is left alone
	for i := 0; i < 5; i++ {
		assert.False(t, r.Reconcile(ctx, game))
	}
	assert.Zero(t, pub.count("g1"))

	report, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
	assert.Zero(t, pub.count("g1"))
}

// droppingStore accepts hostId but silently discards it.
type droppingStore struct {
	*docstore.MemoryStore
}

func (s droppingStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) (*docstore.Record, error) {
	kept := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k != "hostId" {
			kept[k] = v
		}
	}
	return s.MemoryStore.Update(ctx, collection, id, kept)
}

func TestBackfillNotKeptIsAFailure(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	mem := docstore.NewMemoryStore()
	r := NewReconciler(gateway.New(droppingStore{mem}, nil, gateway.WithLogger(logger)), "games", logger)
	seed(t, mem, "legacy", map[string]interface{}{"status": "in-progress", "players": []string{"b:B"}})

	report, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Backfilled)

	rec, err := mem.Get(ctx, "games", "legacy")
	require.NoError(t, err)
	assert.False(t, r.Reconcile(ctx, models.GameFromRecord(rec)))
}

func TestReconcileSwallowsErrors(t *testing.T) {
	r, _, _ := setup(t)
	// the document does not exist, the write fails and is only logged
	assert.True(t, r.Reconcile(context.Background(), &models.Game{ID: "gone", Status: models.StatusInProgress}))
	assert.False(t, r.Reconcile(context.Background(), nil))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	r, _, store := setup(t)
	seed(t, store, "orphan", map[string]interface{}{"status": "waiting", "players": []string{}})
	seed(t, store, "lobby", map[string]interface{}{"status": "waiting", "players": []string{"a:A"}, "hostId": "a"})
	seed(t, store, "abandoned", map[string]interface{}{"status": "in-progress", "players": []string{}})
	seed(t, store, "legacy", map[string]interface{}{"status": "in-progress", "players": []string{"b:B", "c:C"}})
	seed(t, store, "playing", map[string]interface{}{"status": "in-progress", "players": []string{"d:D"}, "hostId": "d"})

	report, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Deleted: 1, Reset: 1, Backfilled: 1}, report)

	_, err = store.Get(ctx, "games", "orphan")
	assert.True(t, errors.Is(err, docstore.ErrNotFound))

	rec, err := store.Get(ctx, "games", "abandoned")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, rec.String("status"))

	rec, err = store.Get(ctx, "games", "legacy")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.String("hostId"))

	_, err = store.Get(ctx, "games", "lobby")
	assert.NoError(t, err)

	// the reset game is now a waiting orphan, so a second sweep deletes it
	report, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Deleted: 1}, report)

	report, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}
