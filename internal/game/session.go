// internal/game/session.go
package game

import (
	"math/rand"
	"sort"

	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/voting"
)

// CodeChars is the join code alphabet (base 36, upper case).
const CodeChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeLength is the number of characters in a join code.
const CodeLength = 4

// GenerateCode returns a random join code. Codes are not checked against
// active games; stale games are reclaimed by the orphan sweep instead.
func GenerateCode(rng *rand.Rand) string {
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeChars[rng.Intn(len(CodeChars))]
	}
	return string(code)
}

// observedAnswer is an answer seen on the feed, tagged with the round it is
// counted for. Answers carry their round when the backend keeps the field;
// otherwise the local round at observation time is used.
type observedAnswer struct {
	answer *models.Answer
	round  int
}

// Session is all the state one signed-in client holds about its current
// game. It is created on login, cleared by reset and dropped on logout. The
// Machine owns it and guards it with its mutex.
type Session struct {
	Identity models.Identity

	Game          *models.Game
	Phase         Phase
	Round         int
	CurrentPrompt string
	UsedPrompts   map[string]struct{}

	Draft    string
	Answered bool
	answers  map[string]*observedAnswer

	Pairs  []voting.Pair
	Ballot *voting.Ballot
	Scores []voting.Score

	// transition guards
	votingEntered bool
	starting      bool
	advancing     bool
}

// NewSession returns an empty session for identity.
func NewSession(identity models.Identity) *Session {
	s := &Session{Identity: identity}
	s.Reset()
	return s
}

// Reset clears everything but the identity.
func (s *Session) Reset() {
	s.Game = nil
	s.Phase = PhaseIdle
	s.Round = 0
	s.CurrentPrompt = ""
	s.UsedPrompts = make(map[string]struct{})
	s.Draft = ""
	s.Answered = false
	s.answers = make(map[string]*observedAnswer)
	s.Pairs = nil
	s.Ballot = nil
	s.Scores = nil
	s.votingEntered = false
	s.starting = false
	s.advancing = false
}

// observe records an answer of the current game. It keeps the round an
// answer was first counted for so that later vote updates do not move it.
func (s *Session) observe(a *models.Answer) *observedAnswer {
	if seen, ok := s.answers[a.ID]; ok {
		seen.answer = a
		return seen
	}
	round := a.Round
	if round == 0 {
		round = s.Round
	}
	obs := &observedAnswer{answer: a, round: round}
	s.answers[a.ID] = obs
	return obs
}

// roundAnswers returns the answers counted for the current round, ordered
// by id.
func (s *Session) roundAnswers() []*models.Answer {
	out := make([]*models.Answer, 0, len(s.answers))
	for _, obs := range s.answers {
		if obs.round == s.Round {
			out = append(out, obs.answer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is a read-only copy of the session for display and debugging.
type Snapshot struct {
	Identity      models.Identity
	Game          *models.Game
	Phase         Phase
	Round         int
	CurrentPrompt string
	UsedPrompts   []string
	Draft         string
	Answered      bool
	AnswerCount   int
	Pairs         []voting.Pair
	Voted         bool
	Scores        []voting.Score
}

func (s *Session) snapshot() Snapshot {
	used := make([]string, 0, len(s.UsedPrompts))
	for p := range s.UsedPrompts {
		used = append(used, p)
	}
	sort.Strings(used)
	snap := Snapshot{
		Identity:      s.Identity,
		Game:          s.Game.Clone(),
		Phase:         s.Phase,
		Round:         s.Round,
		CurrentPrompt: s.CurrentPrompt,
		UsedPrompts:   used,
		Draft:         s.Draft,
		Answered:      s.Answered,
		AnswerCount:   len(s.roundAnswers()),
		Pairs:         append([]voting.Pair(nil), s.Pairs...),
		Scores:        append([]voting.Score(nil), s.Scores...),
	}
	if s.Ballot != nil {
		snap.Voted = s.Ballot.Voted()
	}
	return snap
}
