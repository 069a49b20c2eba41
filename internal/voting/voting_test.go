package voting

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway() *gateway.Gateway {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return gateway.New(docstore.NewMemoryStore(), nil, gateway.WithLogger(logger))
}

func answersFor(gameID string, players ...string) []*models.Answer {
	out := make([]*models.Answer, len(players))
	for i, p := range players {
		out[i] = &models.Answer{ID: "ans-" + p, GameID: gameID, PlayerID: p, Text: p + " says hi"}
	}
	return out
}

func TestPairAnswersFiveCandidates(t *testing.T) {
	answers := answersFor("g1", "b", "c", "d", "e")
	for seed := int64(0); seed < 50; seed++ {
		pairs := PairAnswers(answers, "a", "my answer", rand.New(rand.NewSource(seed)))
		require.Len(t, pairs, 3)

		selfCount, skipPairs := 0, 0
		seen := map[string]int{}
		for _, p := range pairs {
			hasSkip := false
			for _, c := range p.Candidates() {
				seen[c.AnswerID]++
				switch c.AnswerID {
				case SelfAnswerID:
					selfCount++
					assert.False(t, c.Votable)
					assert.Equal(t, "my answer", c.Text)
				case SkipAnswerID:
					hasSkip = true
					assert.False(t, c.Votable)
				default:
					assert.True(t, c.Votable)
					assert.NotEqual(t, "a", c.PlayerID)
				}
			}
			if hasSkip {
				skipPairs++
			}
		}
		assert.Equal(t, 1, selfCount)
		assert.Equal(t, 1, skipPairs)
		for _, p := range []string{"b", "c", "d", "e"} {
			assert.Equal(t, 1, seen["ans-"+p])
		}
	}
}

func TestPairAnswersUsesObservedSelfAnswer(t *testing.T) {
	answers := answersFor("g1", "a", "b", "b")
	pairs := PairAnswers(answers, "a", "draft", rand.New(rand.NewSource(3)))
	require.Len(t, pairs, 1, "self plus one other, duplicate answer from b ignored")

	var self Candidate
	for _, c := range pairs[0].Candidates() {
		if c.PlayerID == "a" {
			self = c
		}
	}
	assert.Equal(t, "ans-a", self.AnswerID)
	assert.Equal(t, "a says hi", self.Text)
	assert.False(t, self.Votable)
}

func TestPairAnswersAloneGetsSkip(t *testing.T) {
	pairs := PairAnswers(nil, "a", "", rand.New(rand.NewSource(1)))
	require.Len(t, pairs, 1)
	assert.Equal(t, SelfAnswerID, pairs[0].A.AnswerID)
	assert.Equal(t, SkipAnswerID, pairs[0].B.AnswerID)
}

func TestReady(t *testing.T) {
	g := &models.Game{ID: "g1", Players: []string{"a:A", "b:B", "c:C"}}
	assert.False(t, Ready(answersFor("g1", "a", "b"), g))
	assert.False(t, Ready(answersFor("g1", "a", "b", "b"), g), "duplicates do not count twice")
	assert.False(t, Ready(append(answersFor("g1", "a", "b"), answersFor("g2", "c")...), g))
	assert.True(t, Ready(answersFor("g1", "c", "a", "b"), g))
	assert.False(t, Ready(nil, &models.Game{ID: "g1"}))
}

func seedAnswer(t *testing.T, gw *gateway.Gateway, a *models.Answer) *models.Answer {
	t.Helper()
	rec, err := gw.CreateRecord(context.Background(), "answers", docstore.UniqueID, a.ToFields())
	require.NoError(t, err)
	return models.AnswerFromRecord(rec)
}

func TestCastRejectsSelfAndDoubleVotes(t *testing.T) {
	ctx := context.Background()
	gw := newGateway()
	mine := seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "a", Text: "mine"})
	theirs := seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "b", Text: "theirs"})
	other := seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "c", Text: "other"})

	ballot := NewBallot(gw, "answers", "a", 1)

	_, err := ballot.Cast(ctx, mine.ID, "a")
	assert.True(t, errors.Is(err, ErrSelfVote))
	assert.False(t, ballot.Voted())

	_, err = ballot.Cast(ctx, SkipAnswerID, "")
	assert.True(t, errors.Is(err, ErrNotVotable))
	_, err = ballot.Cast(ctx, SelfAnswerID, "a")
	assert.True(t, errors.Is(err, ErrNotVotable))

	updated, err := ballot.Cast(ctx, theirs.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Votes)
	assert.True(t, ballot.Voted())

	_, err = ballot.Cast(ctx, other.ID, "c")
	assert.True(t, errors.Is(err, ErrAlreadyVoted))
	_, err = ballot.Cast(ctx, mine.ID, "a")
	assert.True(t, errors.Is(err, ErrAlreadyVoted), "regardless of target")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCastFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	gw := newGateway()
	ballot := NewBallot(gw, "answers", "a", 1)

	_, err := ballot.Cast(ctx, "missing", "b")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTransient))
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	assert.False(t, ballot.Voted())

	theirs := seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "b"})
	_, err = ballot.Cast(ctx, theirs.ID, "b")
	assert.NoError(t, err)
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	ctx := context.Background()
	gw := newGateway()
	target := seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "z"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			_, err := NewBallot(gw, "answers", voter, 1).Cast(ctx, target.ID, "z")
			assert.NoError(t, err)
		}(string(rune('a' + i)))
	}
	wg.Wait()

	rec, err := gw.GetRecord(ctx, "answers", target.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Int("votes"))
}

func TestTallyIncludesZeroVotePlayers(t *testing.T) {
	g := &models.Game{ID: "g1", Players: []string{"a:Ann", "b:Bo", "c:Cy"}}
	answers := []*models.Answer{
		{PlayerID: "b", Votes: 2},
		{PlayerID: "b", Votes: 1},
		{PlayerID: "c", Votes: 1},
		{PlayerID: "ghost", Votes: 9},
	}
	scores := Tally(answers, g)
	assert.Equal(t, []Score{
		{PlayerID: "b", Name: "Bo", Points: 3},
		{PlayerID: "c", Name: "Cy", Points: 1},
		{PlayerID: "a", Name: "Ann", Points: 0},
	}, scores)
}

func TestScoreboard(t *testing.T) {
	ctx := context.Background()
	gw := newGateway()
	g := &models.Game{ID: "g1", Players: []string{"a:Ann", "b:Bo"}}
	seedAnswer(t, gw, &models.Answer{GameID: "g1", PlayerID: "a", Votes: 1})
	seedAnswer(t, gw, &models.Answer{GameID: "g2", PlayerID: "b", Votes: 5})

	scores, err := Scoreboard(ctx, gw, "answers", g)
	require.NoError(t, err)
	assert.Equal(t, []Score{{PlayerID: "a", Name: "Ann", Points: 1}, {PlayerID: "b", Name: "Bo", Points: 0}}, scores)
}
