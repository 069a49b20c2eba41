package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a real database: JESTBLANK_TEST_DATABASE_URL=postgres://... go test ./internal/docstore
func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("JESTBLANK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("JESTBLANK_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := ConnectPostgres(ctx, url)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	collection := "test_" + NewID()
	rec, err := s.Create(ctx, collection, UniqueID, map[string]interface{}{"gameId": "g1", "votes": 0})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Increment(ctx, collection, rec.ID, "votes", 1)
		require.NoError(t, err)
	}
	got, err := s.Get(ctx, collection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Int("votes"))

	list, err := s.List(ctx, collection, Equal("gameId", "g1"))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, collection, rec.ID))
	_, err = s.Get(ctx, collection, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
