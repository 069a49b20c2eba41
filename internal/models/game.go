// internal/models/game.go
package models

import (
	"time"

	"github.com/jason-s-yu/jestblank/internal/docstore"
)

// Game statuses as stored on the game document. A finished game keeps
// StatusInProgress until presence reconciliation reclaims it.
const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in-progress"
)

// Game is the shared document of one play session.
type Game struct {
	ID   string `json:"id"`
	Code string `json:"code"`

	// HostID may be empty on legacy documents, see roster.ResolveHost.
	HostID string `json:"hostId,omitempty"`

	// Players holds "id:name" entries in join order.
	Players []string `json:"players"`
	Status  string   `json:"status"`

	// SubmittedPrompts is the set of player ids that contributed a prompt to
	// this game. It lives as long as the game document.
	SubmittedPrompts []string `json:"submittedPrompts"`

	CurrentPrompt string `json:"currentPrompt,omitempty"`

	// Round is written on start and advance when the backend schema allows
	// it. Zero means unknown.
	Round int `json:"round,omitempty"`

	// UpdatedAt is the store's modification time, used to ignore stale
	// copies arriving out of order.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToFields renders the full document body. Empty optional fields are left
// out so that a backend lacking them is not asked to store them.
func (g *Game) ToFields() map[string]interface{} {
	fields := map[string]interface{}{
		"code":             g.Code,
		"players":          copyStrings(g.Players),
		"status":           g.Status,
		"submittedPrompts": copyStrings(g.SubmittedPrompts),
	}
	if g.HostID != "" {
		fields["hostId"] = g.HostID
	}
	if g.CurrentPrompt != "" {
		fields["currentPrompt"] = g.CurrentPrompt
	}
	if g.Round > 0 {
		fields["round"] = g.Round
	}
	return fields
}

// GameFromRecord decodes a games document. Missing lists decode as empty.
func GameFromRecord(rec *docstore.Record) *Game {
	g := &Game{
		ID:               rec.ID,
		Code:             rec.String("code"),
		HostID:           rec.String("hostId"),
		Players:          rec.Strings("players"),
		Status:           rec.String("status"),
		SubmittedPrompts: rec.Strings("submittedPrompts"),
		CurrentPrompt:    rec.String("currentPrompt"),
		Round:            rec.Int("round"),
		UpdatedAt:        rec.UpdatedAt,
	}
	if g.Players == nil {
		g.Players = []string{}
	}
	if g.SubmittedPrompts == nil {
		g.SubmittedPrompts = []string{}
	}
	return g
}

// Clone returns a deep copy.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	out.Players = copyStrings(g.Players)
	out.SubmittedPrompts = copyStrings(g.SubmittedPrompts)
	return &out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
