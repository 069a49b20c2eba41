package prompts

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPool(t *testing.T, opts ...Option) (*Pool, *gateway.Gateway) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gw := gateway.New(docstore.NewMemoryStore(), nil, gateway.WithLogger(logger))
	opts = append([]Option{WithLogger(logger), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return NewPool(gw, config.Default().Collections, opts...), gw
}

func createGame(t *testing.T, gw *gateway.Gateway, g *models.Game) *models.Game {
	t.Helper()
	rec, err := gw.CreateRecord(context.Background(), "games", docstore.UniqueID, g.ToFields())
	require.NoError(t, err)
	return models.GameFromRecord(rec)
}

func TestRecordSubmissionIsIdempotent(t *testing.T) {
	g := &models.Game{}
	submitted, changed := RecordSubmission(g, "p1")
	assert.True(t, changed)
	g.SubmittedPrompts = submitted

	submitted, changed = RecordSubmission(g, "p1")
	assert.False(t, changed)
	assert.Equal(t, []string{"p1"}, submitted)

	g.SubmittedPrompts = []string{"p1", "p1"}
	submitted, changed = RecordSubmission(g, "p1")
	assert.True(t, changed, "duplicates are collapsed on write")
	assert.Len(t, submitted, 1)
}

func TestValidate(t *testing.T) {
	_, err := Validate("   ")
	assert.True(t, errors.Is(err, ErrEmptyPrompt))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "Type a prompt!", apperr.Message(err))

	_, err = Validate(strings.Repeat("é", MaxLength+1))
	assert.True(t, errors.Is(err, ErrPromptTooLong))

	text, err := Validate("  Why did the ____ cross the road?  ")
	require.NoError(t, err)
	assert.Equal(t, "Why did the ____ cross the road?", text)

	_, err = Validate(strings.Repeat("é", MaxLength))
	assert.NoError(t, err)
}

func TestSubmitTracksPlayerOnce(t *testing.T) {
	ctx := context.Background()
	pool, gw := setupPool(t)
	g := createGame(t, gw, &models.Game{Code: "ABCD", Status: models.StatusWaiting, Players: []string{"p1:Ann"}})
	ann := models.Identity{ID: "p1", Name: "Ann"}

	prompt, g, err := pool.Submit(ctx, g, ann, "First ____")
	require.NoError(t, err)
	assert.Equal(t, g.ID, prompt.GameID)
	assert.Equal(t, "p1", prompt.SubmittedBy)
	assert.Equal(t, []string{"p1"}, g.SubmittedPrompts)

	_, g, err = pool.Submit(ctx, g, ann, "Second ____")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, g.SubmittedPrompts)

	available, err := pool.Available(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, available, 2)
}

func TestTrackUsesFreshDocument(t *testing.T) {
	ctx := context.Background()
	pool, gw := setupPool(t)
	g := createGame(t, gw, &models.Game{Code: "ABCD", Status: models.StatusWaiting})

	// another client recorded p1 after our copy was taken
	_, err := gw.UpdateRecord(ctx, "games", g.ID, map[string]interface{}{"submittedPrompts": []string{"p1"}})
	require.NoError(t, err)

	updated, err := pool.Track(ctx, g, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, updated.SubmittedPrompts)
}

func TestSubmitRejectsInvalidText(t *testing.T) {
	pool, gw := setupPool(t)
	g := createGame(t, gw, &models.Game{Code: "ABCD", Status: models.StatusWaiting})

	_, same, err := pool.Submit(context.Background(), g, models.Identity{ID: "p1"}, "")
	assert.True(t, errors.Is(err, ErrEmptyPrompt))
	assert.Same(t, g, same)
}

func TestPickPromptExcludesUsed(t *testing.T) {
	ctx := context.Background()
	pool, gw := setupPool(t)
	g := createGame(t, gw, &models.Game{Code: "ABCD", Status: models.StatusWaiting})
	for _, text := range []string{"P1", "P2"} {
		_, _, err := pool.Submit(ctx, g, models.Identity{ID: "p1"}, text)
		require.NoError(t, err)
	}

	for i := 0; i < 20; i++ {
		got, err := pool.PickPrompt(ctx, g.ID, map[string]struct{}{"P1": {}})
		require.NoError(t, err)
		assert.Equal(t, "P2", got)
	}

	_, err := pool.PickPrompt(ctx, g.ID, map[string]struct{}{"P1": {}, "P2": {}})
	assert.True(t, errors.Is(err, ErrNoPromptsAvailable))

	_, err = pool.PickPrompt(ctx, "other-game", nil)
	assert.True(t, errors.Is(err, ErrNoPromptsAvailable), "prompts are scoped to their game")
}

func TestGlobalPrompts(t *testing.T) {
	ctx := context.Background()
	pool, gw := setupPool(t, WithGlobalPrompts(true))
	g := createGame(t, gw, &models.Game{Code: "ABCD", Status: models.StatusWaiting})

	prompt, err := pool.SubmitGlobal(ctx, "", "Global ____")
	require.NoError(t, err)
	assert.Equal(t, models.AnonymousSubmitter, prompt.SubmittedBy)
	assert.True(t, prompt.IsGlobal())

	got, err := pool.PickPrompt(ctx, g.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Global ____", got)

	scoped, _ := setupPool(t)
	scoped.gw = gw
	_, err = scoped.PickPrompt(ctx, g.ID, nil)
	assert.True(t, errors.Is(err, ErrNoPromptsAvailable), "global pool is opt-in")
}
