package models

import "github.com/jason-s-yu/jestblank/internal/docstore"

// GlobalGameID scopes a prompt to the cross-game pool.
const GlobalGameID = "global"

// AnonymousSubmitter is recorded for global prompts submitted while signed out.
const AnonymousSubmitter = "anon"

// Prompt is an immutable fill-in-the-blank question.
type Prompt struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SubmittedBy string `json:"submittedBy"`
	GameID      string `json:"gameId"`
}

// IsGlobal reports whether the prompt belongs to the cross-game pool. An
// absent gameId counts as global.
func (p *Prompt) IsGlobal() bool {
	return p.GameID == "" || p.GameID == GlobalGameID
}

func (p *Prompt) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"text":        p.Text,
		"submittedBy": p.SubmittedBy,
		"gameId":      p.GameID,
	}
}

func PromptFromRecord(rec *docstore.Record) *Prompt {
	return &Prompt{
		ID:          rec.ID,
		Text:        rec.String("text"),
		SubmittedBy: rec.String("submittedBy"),
		GameID:      rec.String("gameId"),
	}
}
