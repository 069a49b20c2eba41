// internal/prompts/pool.go
package prompts

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxLength is the longest prompt (and answer) accepted, in characters.
const MaxLength = 500

var (
	ErrEmptyPrompt        = apperr.Validation("Type a prompt!")
	ErrPromptTooLong      = apperr.Validation(fmt.Sprintf("Prompt is too long! Maximum %d characters.", MaxLength))
	ErrNoPromptsAvailable = apperr.Conflict("No more prompts available for this game!")
)

// Validate trims text and checks it against the prompt limits.
func Validate(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyPrompt
	}
	if utf8.RuneCountInString(text) > MaxLength {
		return "", ErrPromptTooLong
	}
	return text, nil
}

// RecordSubmission adds playerID to the game's submitted set. It is
// idempotent; the bool reports whether the set changed.
func RecordSubmission(game *models.Game, playerID string) ([]string, bool) {
	out := make([]string, 0, len(game.SubmittedPrompts)+1)
	seen := make(map[string]struct{}, len(game.SubmittedPrompts))
	for _, id := range game.SubmittedPrompts {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if _, ok := seen[playerID]; ok {
		return out, len(out) != len(game.SubmittedPrompts)
	}
	return append(out, playerID), true
}

// Pool manages prompt documents: submission, submission tracking on the game
// document, and random selection.
type Pool struct {
	gw            *gateway.Gateway
	collections   config.Collections
	includeGlobal bool
	logger        *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Pool.
type Option func(*Pool)

// WithGlobalPrompts makes selection draw from the global pool too.
func WithGlobalPrompts(on bool) Option {
	return func(p *Pool) { p.includeGlobal = on }
}

// WithRand sets the random source used for selection.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// WithLogger sets the pool logger.
func WithLogger(l *logrus.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool returns a pool writing through gw.
func NewPool(gw *gateway.Gateway, collections config.Collections, opts ...Option) *Pool {
	p := &Pool{
		gw:          gw,
		collections: collections,
		logger:      logrus.StandardLogger(),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit stores a prompt for game and records the player as having
// submitted. The returned game reflects the write, or the input game when
// the player was already recorded.
func (p *Pool) Submit(ctx context.Context, game *models.Game, player models.Identity, text string) (*models.Prompt, *models.Game, error) {
	text, err := Validate(text)
	if err != nil {
		return nil, game, err
	}
	prompt := &models.Prompt{Text: text, SubmittedBy: player.ID, GameID: game.ID}
	rec, err := p.gw.CreateRecord(ctx, p.collections.Prompts, docstore.UniqueID, prompt.ToFields())
	if err != nil {
		return nil, game, fmt.Errorf("failed to submit prompt: %w", err)
	}
	prompt = models.PromptFromRecord(rec)

	updated, err := p.Track(ctx, game, player.ID)
	if err != nil {
		return prompt, game, err
	}
	return prompt, updated, nil
}

// SubmitGlobal stores a prompt in the cross-game pool. An empty submitter
// is recorded as anonymous.
func (p *Pool) SubmitGlobal(ctx context.Context, submitter, text string) (*models.Prompt, error) {
	text, err := Validate(text)
	if err != nil {
		return nil, err
	}
	if submitter == "" {
		submitter = models.AnonymousSubmitter
	}
	prompt := &models.Prompt{Text: text, SubmittedBy: submitter, GameID: models.GlobalGameID}
	rec, err := p.gw.CreateRecord(ctx, p.collections.Prompts, docstore.UniqueID, prompt.ToFields())
	if err != nil {
		return nil, fmt.Errorf("failed to submit prompt: %w", err)
	}
	return models.PromptFromRecord(rec), nil
}

// Track persists playerID into the game's submitted set. The set is read
// from a fresh copy of the game document to narrow the window in which a
// concurrent submission can be overwritten.
func (p *Pool) Track(ctx context.Context, game *models.Game, playerID string) (*models.Game, error) {
	current := game
	if rec, err := p.gw.GetRecord(ctx, p.collections.Games, game.ID); err == nil {
		current = models.GameFromRecord(rec)
	} else {
		p.logger.WithField("gameId", game.ID).Warnf("using cached game for submission tracking: %v", err)
	}

	submitted, changed := RecordSubmission(current, playerID)
	if !changed {
		return current, nil
	}
	rec, err := p.gw.UpdateRecord(ctx, p.collections.Games, game.ID, map[string]interface{}{
		"submittedPrompts": submitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track prompt submission: %w", err)
	}
	return models.GameFromRecord(rec), nil
}

// Available lists the prompts selectable for gameID.
func (p *Pool) Available(ctx context.Context, gameID string) ([]*models.Prompt, error) {
	recs, err := p.gw.ListRecords(ctx, p.collections.Prompts, docstore.Equal("gameId", gameID))
	if err != nil {
		return nil, err
	}
	if p.includeGlobal && gameID != models.GlobalGameID {
		global, err := p.gw.ListRecords(ctx, p.collections.Prompts, docstore.Equal("gameId", models.GlobalGameID))
		if err != nil {
			return nil, err
		}
		recs = append(recs, global...)
	}
	out := make([]*models.Prompt, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.PromptFromRecord(rec))
	}
	return out, nil
}

// PickPrompt selects uniformly at random among the prompts for gameID whose
// text is not in excluding. It fails with ErrNoPromptsAvailable when nothing
// is left.
func (p *Pool) PickPrompt(ctx context.Context, gameID string, excluding map[string]struct{}) (string, error) {
	available, err := p.Available(ctx, gameID)
	if err != nil {
		return "", err
	}
	candidates := make([]string, 0, len(available))
	for _, prompt := range available {
		if _, used := excluding[prompt.Text]; used {
			continue
		}
		candidates = append(candidates, prompt.Text)
	}
	if len(candidates) == 0 {
		return "", ErrNoPromptsAvailable
	}

	p.mu.Lock()
	i := p.rng.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[i], nil
}
