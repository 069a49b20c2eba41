// Package roster canonicalizes the player list of a game document.
//
// Entries are stored as "id:name" strings in join order. Several clients
// append to the same list without coordination, so every write re-dedupes
// and readers never trust the list to be unique.
package roster

import (
	"strings"

	"github.com/jason-s-yu/jestblank/internal/models"
)

// Entry is one parsed roster entry.
type Entry struct {
	ID   string
	Name string
}

// ParseEntry splits "id:name". Only the first colon separates, so names may
// contain colons. An entry without a colon is all id.
func ParseEntry(s string) Entry {
	id, name, _ := strings.Cut(s, ":")
	return Entry{ID: id, Name: name}
}

// String renders the entry back to its stored form.
func (e Entry) String() string {
	return e.ID + ":" + e.Name
}

// Label is the name to show for the entry, falling back to the id.
func (e Entry) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}

// EntryFor builds the stored entry for an identity.
func EntryFor(identity models.Identity) string {
	return Entry{ID: identity.ID, Name: identity.Name}.String()
}

// Dedupe keeps the first entry for each id, preserving order.
func Dedupe(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, raw := range entries {
		id := ParseEntry(raw).ID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, raw)
	}
	return out
}

// Entries parses and dedupes the game's roster.
func Entries(game *models.Game) []Entry {
	if game == nil {
		return nil
	}
	deduped := Dedupe(game.Players)
	out := make([]Entry, len(deduped))
	for i, raw := range deduped {
		out[i] = ParseEntry(raw)
	}
	return out
}

// Contains reports whether playerID is on the roster.
func Contains(game *models.Game, playerID string) bool {
	if game == nil {
		return false
	}
	for _, raw := range game.Players {
		if ParseEntry(raw).ID == playerID {
			return true
		}
	}
	return false
}

// ResolveHost returns the game's hostId, or the first player's id when the
// document predates host designation. It returns "" for an empty roster
// without a hostId.
func ResolveHost(game *models.Game) string {
	if game == nil {
		return ""
	}
	if game.HostID != "" {
		return game.HostID
	}
	if len(game.Players) == 0 {
		return ""
	}
	return ParseEntry(game.Players[0]).ID
}

// IsHost reports whether playerID may start the game.
func IsHost(game *models.Game, playerID string) bool {
	host := ResolveHost(game)
	return host != "" && host == playerID
}

// DisplayName returns the roster name for playerID, or the id itself when
// the player is not on the roster or has no name.
func DisplayName(game *models.Game, playerID string) string {
	if game != nil {
		for _, raw := range game.Players {
			if e := ParseEntry(raw); e.ID == playerID {
				return e.Label()
			}
		}
	}
	return playerID
}

// Join returns the roster with identity appended if its id is absent,
// deduped either way. The bool reports whether a write is needed: it is
// true when the identity was added or the stored list carried duplicates.
func Join(game *models.Game, identity models.Identity) ([]string, bool) {
	var players []string
	if game != nil {
		players = game.Players
	}
	deduped := Dedupe(players)
	changed := len(deduped) != len(players)
	for _, raw := range deduped {
		if ParseEntry(raw).ID == identity.ID {
			return deduped, changed
		}
	}
	return append(deduped, EntryFor(identity)), true
}
