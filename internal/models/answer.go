package models

import "github.com/jason-s-yu/jestblank/internal/docstore"

// NoAnswer is submitted on a player's behalf when the prompt timer runs out
// with nothing typed.
const NoAnswer = "(No answer)"

// Answer is one player's response for one round. Only Votes changes after
// creation.
type Answer struct {
	ID       string `json:"id"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	// Text is stored under "promptText" for compatibility with existing
	// answer collections.
	Text  string `json:"promptText"`
	Votes int    `json:"votes"`
	// Round is best effort, zero when the backend dropped it.
	Round int `json:"round,omitempty"`
}

func (a *Answer) ToFields() map[string]interface{} {
	fields := map[string]interface{}{
		"gameId":     a.GameID,
		"playerId":   a.PlayerID,
		"promptText": a.Text,
		"votes":      a.Votes,
	}
	if a.Round > 0 {
		fields["round"] = a.Round
	}
	return fields
}

func AnswerFromRecord(rec *docstore.Record) *Answer {
	return &Answer{
		ID:       rec.ID,
		GameID:   rec.String("gameId"),
		PlayerID: rec.String("playerId"),
		Text:     rec.String("promptText"),
		Votes:    rec.Int("votes"),
		Round:    rec.Int("round"),
	}
}
