// internal/voting/pairing.go
package voting

import (
	"math/rand"

	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/roster"
)

// Placeholder answer ids. Neither can receive a vote.
const (
	SelfAnswerID = "self"
	SkipAnswerID = "skip"
)

// SkipText is shown for the placeholder that fills an odd pairing.
const SkipText = "Randomly skipped"

// Candidate is one side of a head-to-head pair.
type Candidate struct {
	AnswerID string
	PlayerID string
	Text     string
	Votes    int
	Votable  bool
}

// Pair is a head-to-head choice.
type Pair struct {
	A Candidate
	B Candidate
}

// Candidates returns the pair's two sides.
func (p Pair) Candidates() []Candidate {
	return []Candidate{p.A, p.B}
}

// PairAnswers builds the voting pairs for voterID. Every other player's
// answer is votable; the voter's own answer appears once as a non-votable
// entry (selfText is used when the voter's answer has not been observed).
// The set is shuffled and chunked in twos, an odd leftover is paired with a
// skip placeholder. Answers are assumed to belong to the current round.
func PairAnswers(answers []*models.Answer, voterID, selfText string, rng *rand.Rand) []Pair {
	self := Candidate{AnswerID: SelfAnswerID, PlayerID: voterID, Text: selfText}
	candidates := make([]Candidate, 0, len(answers)+1)
	seenPlayers := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		// one answer per player per round; later duplicates are ignored
		if _, dup := seenPlayers[a.PlayerID]; dup {
			continue
		}
		seenPlayers[a.PlayerID] = struct{}{}
		if a.PlayerID == voterID {
			self.AnswerID = a.ID
			self.Text = a.Text
			self.Votes = a.Votes
			continue
		}
		candidates = append(candidates, Candidate{
			AnswerID: a.ID,
			PlayerID: a.PlayerID,
			Text:     a.Text,
			Votes:    a.Votes,
			Votable:  true,
		})
	}
	candidates = append(candidates, self)

	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	pairs := make([]Pair, 0, (len(candidates)+1)/2)
	for i := 0; i < len(candidates); i += 2 {
		pair := Pair{A: candidates[i]}
		if i+1 < len(candidates) {
			pair.B = candidates[i+1]
		} else {
			pair.B = Candidate{AnswerID: SkipAnswerID, Text: SkipText}
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// Ready reports whether every roster player has an answer among answers.
// It is a pure function of the observed state and is meant to be
// re-evaluated on every feed event.
func Ready(answers []*models.Answer, game *models.Game) bool {
	entries := roster.Entries(game)
	if len(entries) == 0 {
		return false
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		if a.GameID == game.ID {
			answered[a.PlayerID] = struct{}{}
		}
	}
	for _, e := range entries {
		if _, ok := answered[e.ID]; !ok {
			return false
		}
	}
	return true
}
