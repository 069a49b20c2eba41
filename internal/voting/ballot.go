// internal/voting/ballot.go
package voting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/roster"
)

var (
	ErrSelfVote     = apperr.Conflict("You can't vote for your own answer!")
	ErrAlreadyVoted = apperr.Conflict("You've already voted this round!")
	ErrNotVotable   = apperr.Conflict("That answer can't receive votes.")
)

// Ballot is one voter's single vote for one round. The one-vote rule is
// tracked locally; the backend does not enforce it.
type Ballot struct {
	gw         *gateway.Gateway
	collection string
	voterID    string
	round      int

	mu    sync.Mutex
	voted bool
}

// NewBallot returns an unused ballot.
func NewBallot(gw *gateway.Gateway, answersCollection, voterID string, round int) *Ballot {
	return &Ballot{gw: gw, collection: answersCollection, voterID: voterID, round: round}
}

// Round is the round the ballot belongs to.
func (b *Ballot) Round() int {
	return b.round
}

// Voted reports whether the ballot has been cast.
func (b *Ballot) Voted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voted
}

// Cast adds one vote to answerID. A second call fails with ErrAlreadyVoted
// whatever the target. A remote failure leaves the ballot unused so the
// voter can retry.
func (b *Ballot) Cast(ctx context.Context, answerID, ownerID string) (*models.Answer, error) {
	b.mu.Lock()
	if b.voted {
		b.mu.Unlock()
		return nil, ErrAlreadyVoted
	}
	if answerID == SelfAnswerID || answerID == SkipAnswerID || answerID == "" {
		b.mu.Unlock()
		return nil, ErrNotVotable
	}
	if ownerID == b.voterID {
		b.mu.Unlock()
		return nil, ErrSelfVote
	}
	// claimed before the write so concurrent casts cannot both go through
	b.voted = true
	b.mu.Unlock()

	rec, err := b.gw.Increment(ctx, b.collection, answerID, "votes", 1)
	if err != nil {
		b.mu.Lock()
		b.voted = false
		b.mu.Unlock()
		return nil, apperr.Wrap(apperr.Transient("Failed to record vote. Please try again.", nil), err)
	}
	return models.AnswerFromRecord(rec), nil
}

// Score is one roster player's total.
type Score struct {
	PlayerID string
	Name     string
	Points   int
}

// Tally sums votes per player across answers and ranks the roster by
// points. Zero-vote players are included; ties keep join order.
func Tally(answers []*models.Answer, game *models.Game) []Score {
	totals := make(map[string]int)
	for _, a := range answers {
		totals[a.PlayerID] += a.Votes
	}
	entries := roster.Entries(game)
	scores := make([]Score, len(entries))
	for i, e := range entries {
		scores[i] = Score{PlayerID: e.ID, Name: e.Label(), Points: totals[e.ID]}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Points > scores[j].Points
	})
	return scores
}

// Scoreboard queries every answer of the game and tallies it.
func Scoreboard(ctx context.Context, gw *gateway.Gateway, answersCollection string, game *models.Game) ([]Score, error) {
	recs, err := gw.ListRecords(ctx, answersCollection, docstore.Equal("gameId", game.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}
	answers := make([]*models.Answer, 0, len(recs))
	for _, rec := range recs {
		answers = append(answers, models.AnswerFromRecord(rec))
	}
	return Tally(answers, game), nil
}
