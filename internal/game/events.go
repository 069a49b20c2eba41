// internal/game/events.go
package game

import (
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/voting"
)

// Phase is the local view of where the game is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLobby
	PhasePromptCollection
	PhaseAnswering
	PhaseVoting
	PhaseScoring
	PhaseGameEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLobby:
		return "lobby"
	case PhasePromptCollection:
		return "prompt_collection"
	case PhaseAnswering:
		return "answering"
	case PhaseVoting:
		return "voting"
	case PhaseScoring:
		return "scoring"
	case PhaseGameEnd:
		return "game_end"
	default:
		return "unknown"
	}
}

// InLobby reports whether the phase accepts joins and prompt submissions.
func (p Phase) InLobby() bool {
	return p == PhaseLobby || p == PhasePromptCollection
}

// EventType tags an Event.
type EventType string

const (
	EventGameUpdated     EventType = "game_updated"
	EventRoundStarted    EventType = "round_started"
	EventAnswerSubmitted EventType = "answer_submitted"
	EventVotingStarted   EventType = "voting_started"
	EventVoteCount       EventType = "vote_count"
	EventVoteCast        EventType = "vote_cast"
	EventScores          EventType = "scores"
	EventGameEnd         EventType = "game_end"
	EventGameClosed      EventType = "game_closed"
	EventError           EventType = "error"
)

// Event is pushed to the UI layer. Only the fields relevant to Type are set.
type Event struct {
	Type   EventType
	Phase  Phase
	Round  int
	Game   *models.Game
	Prompt string
	Pairs  []voting.Pair
	Scores []voting.Score
	Answer *models.Answer
	// Message is user-facing text, e.g. why the game ended.
	Message string
	Err     error
}
