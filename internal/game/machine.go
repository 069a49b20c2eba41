// internal/game/machine.go
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jason-s-yu/jestblank/internal/changefeed"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/presence"
	"github.com/jason-s-yu/jestblank/internal/prompts"
	"github.com/jason-s-yu/jestblank/internal/roster"
	"github.com/jason-s-yu/jestblank/internal/voting"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// backgroundTimeout bounds remote calls made from timers and feed handlers,
// which have no caller context.
const backgroundTimeout = 10 * time.Second

// Machine drives one client through lobby, rounds and game end. Every
// client of a game runs its own Machine; they coordinate only through the
// game document and the answers collection. Local transitions are derived
// from the latest observed documents, so duplicate or reordered feed events
// are harmless.
//
// The mutex guards the session and timers and is never held across a
// remote call.
type Machine struct {
	gw         *gateway.Gateway
	pool       *prompts.Pool
	reconciler *presence.Reconciler
	cols       config.Collections
	settings   config.GameSettings
	debug      bool
	clock      clockwork.Clock
	logger     *logrus.Logger

	// OnEvent receives every event after the machine lock is released. If
	// nil, events are dropped.
	OnEvent func(ev Event)

	mu  sync.Mutex
	s   *Session
	rng *rand.Rand

	promptTimer clockwork.Timer
	promptSeq   int
	votingTimer clockwork.Timer
	votingSeq   int
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the real clock, e.g. with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithRand sets the random source for join codes and vote pairing.
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rng = r }
}

// WithLogger sets the machine logger.
func WithLogger(l *logrus.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine returns a machine for identity with no game loaded.
// reconciler may be nil to skip presence reconciliation.
func NewMachine(gw *gateway.Gateway, pool *prompts.Pool, reconciler *presence.Reconciler, cfg *config.Config, identity models.Identity, opts ...Option) *Machine {
	m := &Machine{
		gw:         gw,
		pool:       pool,
		reconciler: reconciler,
		cols:       cfg.Collections,
		settings:   cfg.Game,
		debug:      cfg.DebugMode,
		clock:      clockwork.NewRealClock(),
		logger:     logrus.StandardLogger(),
		s:          NewSession(identity),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Identity returns the signed-in player.
func (m *Machine) Identity() models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Identity
}

// Snapshot returns a copy of the session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.snapshot()
}

func (m *Machine) emit(evs []Event) {
	if m.OnEvent == nil {
		return
	}
	for _, ev := range evs {
		m.OnEvent(ev)
	}
}

// logLocked returns a logger carrying the session context.
func (m *Machine) logLocked() *logrus.Entry {
	fields := logrus.Fields{
		"player": m.s.Identity.ID,
		"phase":  m.s.Phase.String(),
		"round":  m.s.Round,
	}
	if m.s.Game != nil {
		fields["gameId"] = m.s.Game.ID
		fields["code"] = m.s.Game.Code
	}
	return m.logger.WithFields(fields)
}

// CheckGates validates the start conditions against game: the roster size
// within [MinPlayers, MaxPlayers] and a prompt from every player.
func CheckGates(game *models.Game, settings config.GameSettings) error {
	entries := roster.Entries(game)
	players := len(entries)
	if players < settings.MinPlayers {
		return gateError(ErrTooFewPlayers, "Need at least %d players to start the game.", settings.MinPlayers)
	}
	if players > settings.MaxPlayers {
		return gateError(ErrTooManyPlayers, "Too many players! Maximum is %d.", settings.MaxPlayers)
	}
	submitted := make(map[string]struct{}, len(game.SubmittedPrompts))
	for _, id := range game.SubmittedPrompts {
		submitted[id] = struct{}{}
	}
	for _, e := range entries {
		if _, ok := submitted[e.ID]; !ok {
			return gateError(ErrPromptsMissing, "All players must submit a prompt before starting the game.")
		}
	}
	return nil
}

// CreateGame creates a waiting game hosted by the signed-in player and
// enters its lobby.
func (m *Machine) CreateGame(ctx context.Context) (*models.Game, error) {
	m.mu.Lock()
	me := m.s.Identity
	code := GenerateCode(m.rng)
	m.mu.Unlock()
	if me.ID == "" {
		return nil, ErrNotSignedIn
	}

	g := &models.Game{
		Code:             code,
		HostID:           me.ID,
		Players:          []string{roster.EntryFor(me)},
		Status:           models.StatusWaiting,
		SubmittedPrompts: []string{},
	}
	rec, err := m.gw.CreateRecord(ctx, m.cols.Games, docstore.UniqueID, g.ToFields())
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	game := models.GameFromRecord(rec)
	if err := m.enterGame(ctx, game); err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{"gameId": game.ID, "code": game.Code}).Info("game created")
	return game, nil
}

// JoinGame finds the game with code and adds the signed-in player to its
// roster if absent. Joining a game already under way drops the player
// straight into the current round.
func (m *Machine) JoinGame(ctx context.Context, code string) (*models.Game, error) {
	me := m.Identity()
	if me.ID == "" {
		return nil, ErrNotSignedIn
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrEmptyCode
	}

	recs, err := m.gw.ListRecords(ctx, m.cols.Games, docstore.Equal("code", code))
	if err != nil {
		return nil, fmt.Errorf("failed to look up game: %w", err)
	}
	game := pickByCode(recs)
	if game == nil {
		return nil, ErrGameNotFound
	}

	players, changed := roster.Join(game, me)
	if changed {
		rec, err := m.gw.UpdateRecord(ctx, m.cols.Games, game.ID, map[string]interface{}{"players": players})
		if err != nil {
			return nil, fmt.Errorf("failed to join game: %w", err)
		}
		game = models.GameFromRecord(rec)
	}
	if err := m.enterGame(ctx, game); err != nil {
		return nil, err
	}
	m.logger.WithFields(logrus.Fields{"gameId": game.ID, "code": game.Code, "players": len(game.Players)}).Info("joined game")
	return game, nil
}

// pickByCode chooses among games sharing a code: codes are not unique, so
// the newest waiting game wins, then the newest of any status.
func pickByCode(recs []*docstore.Record) *models.Game {
	var newest, newestWaiting *models.Game
	for _, rec := range recs {
		g := models.GameFromRecord(rec)
		newest = g
		if g.Status == models.StatusWaiting {
			newestWaiting = g
		}
	}
	if newestWaiting != nil {
		return newestWaiting
	}
	return newest
}

// enterGame makes game the session's game and subscribes to it and to the
// answers collection. Any previous game's subscriptions are dropped.
func (m *Machine) enterGame(ctx context.Context, game *models.Game) error {
	m.gw.CloseAll()
	m.mu.Lock()
	m.stopTimersLocked()
	m.s.Reset()
	m.s.Game = game.Clone()
	m.s.Phase = PhaseLobby
	m.mu.Unlock()

	if _, err := m.gw.Subscribe(ctx, changefeed.Document(m.cols.Games, game.ID), m.HandleGameEvent); err != nil {
		m.Reset()
		return fmt.Errorf("failed to subscribe to game: %w", err)
	}
	if _, err := m.gw.Subscribe(ctx, changefeed.Collection(m.cols.Answers), m.HandleAnswerEvent); err != nil {
		m.Reset()
		return fmt.Errorf("failed to subscribe to answers: %w", err)
	}

	m.mu.Lock()
	evs := m.applyLocked(game)
	m.mu.Unlock()
	m.emit(evs)
	return nil
}

// SubmitPrompt adds a prompt to the current game and records the player as
// having submitted.
func (m *Machine) SubmitPrompt(ctx context.Context, text string) (*models.Prompt, error) {
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return nil, ErrNoGame
	}
	if !m.s.Phase.InLobby() {
		m.mu.Unlock()
		return nil, ErrGameStarted
	}
	game := m.s.Game.Clone()
	me := m.s.Identity
	m.mu.Unlock()

	prompt, updated, err := m.pool.Submit(ctx, game, me, text)
	if err != nil {
		return prompt, err
	}
	m.mu.Lock()
	evs := m.applyLocked(updated)
	m.mu.Unlock()
	m.emit(evs)
	return prompt, nil
}

// SubmitGlobalPrompt adds a prompt to the cross-game pool. It needs no
// game and works signed out.
func (m *Machine) SubmitGlobalPrompt(ctx context.Context, text string) (*models.Prompt, error) {
	return m.pool.SubmitGlobal(ctx, m.Identity().ID, text)
}

// Start moves the game from the lobby into its first round. Only the host
// may start, and the gates are checked against a freshly fetched document.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return ErrNoGame
	}
	if !m.s.Phase.InLobby() {
		m.mu.Unlock()
		return ErrGameStarted
	}
	if m.s.starting {
		m.mu.Unlock()
		return ErrTransitionInFlight
	}
	m.s.starting = true
	gameID := m.s.Game.ID
	me := m.s.Identity.ID
	exclude := copySet(m.s.UsedPrompts)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.s.starting = false
		m.mu.Unlock()
	}()

	rec, err := m.gw.GetRecord(ctx, m.cols.Games, gameID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrGameNotFound
		}
		return fmt.Errorf("failed to fetch game: %w", err)
	}
	fresh := models.GameFromRecord(rec)
	if !roster.IsHost(fresh, me) {
		return ErrNotHost
	}
	if fresh.Status == models.StatusInProgress {
		return ErrGameStarted
	}
	if err := CheckGates(fresh, m.settings); err != nil {
		return err
	}

	prompt, err := m.pool.PickPrompt(ctx, gameID, exclude)
	if errors.Is(err, prompts.ErrNoPromptsAvailable) {
		return gateError(err, "No prompts available! Each player must submit at least one prompt.")
	}
	if err != nil {
		return fmt.Errorf("failed to pick a prompt: %w", err)
	}

	rec, err = m.gw.UpdateRecord(ctx, m.cols.Games, gameID, map[string]interface{}{
		"status":        models.StatusInProgress,
		"currentPrompt": prompt,
		"round":         1,
	})
	if err != nil {
		return fmt.Errorf("failed to start game: %w", err)
	}

	m.mu.Lock()
	m.logLocked().Info("game started")
	evs := m.applyLocked(models.GameFromRecord(rec))
	m.mu.Unlock()
	m.emit(evs)
	return nil
}

// ForceStart sets the game in progress without checking host or gates.
// Only available in debug mode.
func (m *Machine) ForceStart(ctx context.Context) error {
	if !m.debug {
		return ErrDebugDisabled
	}
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return ErrNoGame
	}
	gameID := m.s.Game.ID
	exclude := copySet(m.s.UsedPrompts)
	m.mu.Unlock()

	rec, err := m.gw.GetRecord(ctx, m.cols.Games, gameID)
	if err != nil {
		return fmt.Errorf("force start: %w", err)
	}
	fields := map[string]interface{}{"status": models.StatusInProgress}
	if models.GameFromRecord(rec).CurrentPrompt == "" {
		prompt, err := m.pool.PickPrompt(ctx, gameID, exclude)
		if err != nil {
			return fmt.Errorf("force start: %w", err)
		}
		fields["currentPrompt"] = prompt
		fields["round"] = 1
	}
	rec, err = m.gw.UpdateRecord(ctx, m.cols.Games, gameID, fields)
	if err != nil {
		return fmt.Errorf("force start: %w", err)
	}

	m.mu.Lock()
	m.logLocked().Warn("game force-started")
	evs := m.applyLocked(models.GameFromRecord(rec))
	m.mu.Unlock()
	m.emit(evs)
	return nil
}

// SetDraft records what the player has typed so far. The draft is
// submitted when the prompt timer runs out.
func (m *Machine) SetDraft(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Draft = text
}

// SubmitAnswer submits the player's answer for the current round. Blank
// text is submitted as models.NoAnswer.
func (m *Machine) SubmitAnswer(ctx context.Context, text string) error {
	return m.submitAnswer(ctx, text, false)
}

func (m *Machine) submitAnswer(ctx context.Context, text string, auto bool) error {
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return ErrNoGame
	}
	if m.s.Phase != PhaseAnswering {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	if m.s.Answered {
		m.mu.Unlock()
		return ErrAlreadyAnswered
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = models.NoAnswer
	}
	if utf8.RuneCountInString(text) > prompts.MaxLength {
		if !auto {
			m.mu.Unlock()
			return ErrAnswerTooLong
		}
		text = string([]rune(text)[:prompts.MaxLength])
	}
	m.s.Answered = true
	m.s.Draft = text
	round := m.s.Round
	answer := &models.Answer{GameID: m.s.Game.ID, PlayerID: m.s.Identity.ID, Text: text, Round: round}
	if auto {
		m.logLocked().Info("prompt timer expired, auto-submitting answer")
	}
	m.mu.Unlock()

	rec, err := m.gw.CreateRecord(ctx, m.cols.Answers, docstore.UniqueID, answer.ToFields())
	if err != nil {
		m.mu.Lock()
		if m.s.Round == round {
			m.s.Answered = false
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to submit answer: %w", err)
	}
	saved := models.AnswerFromRecord(rec)

	m.mu.Lock()
	var evs []Event
	if m.s.Game != nil && m.s.Round == round && saved.GameID == m.s.Game.ID {
		m.stopPromptTimerLocked()
		m.s.observe(saved)
		evs = append(evs, Event{Type: EventAnswerSubmitted, Phase: m.s.Phase, Round: round, Answer: saved})
		evs = append(evs, m.checkVotingLocked()...)
	}
	m.mu.Unlock()
	m.emit(evs)
	return nil
}

// CastVote votes for answerID among the current pairs. A successful vote
// ends voting for this client and moves it on to scoring.
func (m *Machine) CastVote(ctx context.Context, answerID string) error {
	m.mu.Lock()
	ballot := m.s.Ballot
	if ballot != nil && ballot.Voted() && ballot.Round() == m.s.Round {
		m.mu.Unlock()
		return voting.ErrAlreadyVoted
	}
	if m.s.Phase != PhaseVoting || ballot == nil {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	owner, found := "", false
	for _, p := range m.s.Pairs {
		for _, c := range p.Candidates() {
			if c.AnswerID == answerID {
				owner, found = c.PlayerID, true
			}
		}
	}
	round := m.s.Round
	m.mu.Unlock()
	if !found {
		return voting.ErrNotVotable
	}

	updated, err := ballot.Cast(ctx, answerID, owner)
	if err != nil {
		return err
	}

	m.mu.Lock()
	var evs []Event
	if m.s.Round == round {
		m.updatePairVotesLocked(updated)
		evs = append(evs, Event{Type: EventVoteCast, Phase: m.s.Phase, Round: round, Answer: updated})
	}
	m.mu.Unlock()
	m.emit(evs)

	m.enterScoring(ctx, round)
	return nil
}

// RefreshScores re-tallies the scoreboard while scoring or at game end.
func (m *Machine) RefreshScores(ctx context.Context) ([]voting.Score, error) {
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return nil, ErrNoGame
	}
	if m.s.Phase != PhaseScoring && m.s.Phase != PhaseGameEnd {
		m.mu.Unlock()
		return nil, ErrWrongPhase
	}
	game := m.s.Game.Clone()
	m.mu.Unlock()

	scores, err := voting.Scoreboard(ctx, m.gw, m.cols.Answers, game)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.s.Game != nil && m.s.Game.ID == game.ID {
		m.s.Scores = scores
	}
	m.mu.Unlock()
	return scores, nil
}

// Advance moves on from scoring: to the next round with a fresh prompt, or
// to game end once ROUNDS_PER_GAME rounds were played or the prompts ran
// out. Game end is local only; the document stays in progress.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if m.s.Game == nil {
		m.mu.Unlock()
		return ErrNoGame
	}
	if m.s.Phase != PhaseScoring {
		m.mu.Unlock()
		return ErrWrongPhase
	}
	if m.s.advancing {
		m.mu.Unlock()
		return ErrTransitionInFlight
	}
	next := m.s.Round + 1
	if next > m.settings.RoundsPerGame {
		evs := m.endGameLocked("Final Results!")
		m.mu.Unlock()
		m.emit(evs)
		return nil
	}
	m.s.advancing = true
	gameID := m.s.Game.ID
	exclude := copySet(m.s.UsedPrompts)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.s.advancing = false
		m.mu.Unlock()
	}()

	prompt, err := m.pool.PickPrompt(ctx, gameID, exclude)
	if errors.Is(err, prompts.ErrNoPromptsAvailable) {
		m.mu.Lock()
		var evs []Event
		if m.s.Phase == PhaseScoring {
			evs = m.endGameLocked("All prompts have been used!")
		}
		m.mu.Unlock()
		m.emit(evs)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start next round: %w", err)
	}

	rec, err := m.gw.UpdateRecord(ctx, m.cols.Games, gameID, map[string]interface{}{
		"currentPrompt": prompt,
		"round":         next,
	})
	if err != nil {
		return fmt.Errorf("failed to start next round: %w", err)
	}

	m.mu.Lock()
	evs := m.applyLocked(models.GameFromRecord(rec))
	m.mu.Unlock()
	m.emit(evs)
	return nil
}

// HandleGameEvent applies a change-feed event for the current game
// document, then runs presence reconciliation on it.
func (m *Machine) HandleGameEvent(ev docstore.Event) {
	if ev.Record == nil {
		return
	}
	game := models.GameFromRecord(ev.Record)

	m.mu.Lock()
	if m.s.Game == nil || m.s.Game.ID != game.ID {
		m.mu.Unlock()
		return
	}
	if ev.Kind == docstore.EventDeleted {
		m.logLocked().Warn("game document deleted")
		m.stopTimersLocked()
		m.s.Reset()
		// detached now so a game entered right after keeps its subscriptions
		closeSubs := m.gw.Detach()
		m.mu.Unlock()
		// not from this handler's goroutine: some feeds wait for it on close
		go closeSubs()
		m.emit([]Event{{Type: EventGameClosed, Phase: PhaseIdle, Message: "The game was closed."}})
		return
	}
	evs := m.applyLocked(game)
	m.mu.Unlock()
	m.emit(evs)

	if m.reconciler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		m.reconciler.Reconcile(ctx, game)
		cancel()
	}
}

// HandleAnswerEvent applies a change-feed event from the answers
// collection. Answers of other games are ignored.
func (m *Machine) HandleAnswerEvent(ev docstore.Event) {
	if ev.Record == nil || ev.Kind == docstore.EventDeleted {
		return
	}
	a := models.AnswerFromRecord(ev.Record)

	m.mu.Lock()
	if m.s.Game == nil || a.GameID != m.s.Game.ID || m.s.Phase == PhaseIdle || m.s.Phase == PhaseGameEnd {
		m.mu.Unlock()
		return
	}
	obs := m.s.observe(a)
	var evs []Event
	if ev.Kind == docstore.EventUpdated && obs.round == m.s.Round &&
		(m.s.Phase == PhaseVoting || m.s.Phase == PhaseScoring) {
		m.updatePairVotesLocked(a)
		evs = append(evs, Event{Type: EventVoteCount, Phase: m.s.Phase, Round: m.s.Round, Answer: a})
	}
	evs = append(evs, m.checkVotingLocked()...)
	m.mu.Unlock()
	m.emit(evs)
}

// Reset leaves the current game: subscriptions are closed, timers stopped
// and the session cleared. The identity is kept.
func (m *Machine) Reset() {
	m.gw.CloseAll()
	m.mu.Lock()
	m.stopTimersLocked()
	hadGame := m.s.Game != nil
	m.s.Reset()
	m.mu.Unlock()
	if hadGame {
		m.emit([]Event{{Type: EventGameClosed, Phase: PhaseIdle}})
	}
}

// Close ends the session on logout. The machine is unusable afterwards.
func (m *Machine) Close() {
	m.Reset()
	m.mu.Lock()
	m.s.Identity = models.Identity{}
	m.mu.Unlock()
}

// applyLocked folds an observed game document into the session and derives
// the local transitions it implies. Stale copies are ignored.
func (m *Machine) applyLocked(game *models.Game) []Event {
	cur := m.s.Game
	if cur == nil || game.ID != cur.ID {
		return nil
	}
	if !game.UpdatedAt.IsZero() && !cur.UpdatedAt.IsZero() && game.UpdatedAt.Before(cur.UpdatedAt) {
		return nil
	}
	m.s.Game = game.Clone()

	var evs []Event
	switch {
	case m.s.Phase == PhaseIdle || m.s.Phase == PhaseGameEnd:
	case game.Status == models.StatusInProgress && game.CurrentPrompt != "":
		evs = append(evs, m.followRoundLocked(game)...)
	case m.s.Phase.InLobby():
		if len(game.SubmittedPrompts) > 0 {
			m.s.Phase = PhasePromptCollection
		} else {
			m.s.Phase = PhaseLobby
		}
	}
	// the roster may have changed under an answering round
	evs = append(evs, m.checkVotingLocked()...)

	updated := Event{Type: EventGameUpdated, Phase: m.s.Phase, Round: m.s.Round, Game: game.Clone()}
	return append([]Event{updated}, evs...)
}

// followRoundLocked starts the round the document describes if this client
// has not started it yet.
func (m *Machine) followRoundLocked(game *models.Game) []Event {
	switch {
	case m.s.Phase.InLobby():
		round := game.Round
		if round <= 0 {
			round = 1
		}
		return m.beginRoundLocked(round, game.CurrentPrompt)
	case game.Round > 0 && game.Round > m.s.Round:
		return m.beginRoundLocked(game.Round, game.CurrentPrompt)
	case game.Round == 0 && game.CurrentPrompt != m.s.CurrentPrompt:
		// no round on the document, a new prompt means a new round
		return m.beginRoundLocked(m.s.Round+1, game.CurrentPrompt)
	case game.Round == m.s.Round && game.CurrentPrompt != m.s.CurrentPrompt && m.s.Phase == PhaseAnswering:
		// two clients advanced at once; the last write wins
		m.s.UsedPrompts[game.CurrentPrompt] = struct{}{}
		m.s.CurrentPrompt = game.CurrentPrompt
		return []Event{{Type: EventRoundStarted, Phase: m.s.Phase, Round: m.s.Round, Prompt: game.CurrentPrompt}}
	}
	return nil
}

func (m *Machine) beginRoundLocked(round int, prompt string) []Event {
	m.s.Round = round
	m.s.CurrentPrompt = prompt
	m.s.UsedPrompts[prompt] = struct{}{}
	m.s.Phase = PhaseAnswering
	m.s.Draft = ""
	m.s.Answered = false
	m.s.Pairs = nil
	m.s.Scores = nil
	m.s.votingEntered = false
	m.s.Ballot = voting.NewBallot(m.gw, m.cols.Answers, m.s.Identity.ID, round)
	m.stopVotingTimerLocked()
	m.startPromptTimerLocked()
	m.logLocked().WithField("prompt", prompt).Info("round started")
	return []Event{{Type: EventRoundStarted, Phase: PhaseAnswering, Round: round, Prompt: prompt}}
}

// checkVotingLocked enters voting once every roster player has an answer
// for the current round. It is re-evaluated on every feed event.
func (m *Machine) checkVotingLocked() []Event {
	if m.s.Phase != PhaseAnswering || m.s.votingEntered || m.s.Game == nil {
		return nil
	}
	answers := m.s.roundAnswers()
	if !voting.Ready(answers, m.s.Game) {
		return nil
	}
	m.s.votingEntered = true
	m.s.Phase = PhaseVoting
	m.stopPromptTimerLocked()
	m.s.Pairs = voting.PairAnswers(answers, m.s.Identity.ID, m.s.Draft, m.rng)
	m.startVotingTimerLocked()
	m.logLocked().WithField("answers", len(answers)).Info("all answers in, voting")
	return []Event{{
		Type:  EventVotingStarted,
		Phase: PhaseVoting,
		Round: m.s.Round,
		Pairs: append([]voting.Pair(nil), m.s.Pairs...),
	}}
}

func (m *Machine) updatePairVotesLocked(a *models.Answer) {
	for i := range m.s.Pairs {
		if m.s.Pairs[i].A.AnswerID == a.ID {
			m.s.Pairs[i].A.Votes = a.Votes
		}
		if m.s.Pairs[i].B.AnswerID == a.ID {
			m.s.Pairs[i].B.Votes = a.Votes
		}
	}
}

// enterScoring concludes voting for round and loads the scoreboard.
func (m *Machine) enterScoring(ctx context.Context, round int) {
	m.mu.Lock()
	if m.s.Round != round || m.s.Phase != PhaseVoting || m.s.Game == nil {
		m.mu.Unlock()
		return
	}
	m.s.Phase = PhaseScoring
	m.stopVotingTimerLocked()
	game := m.s.Game.Clone()
	m.mu.Unlock()

	scores, err := voting.Scoreboard(ctx, m.gw, m.cols.Answers, game)

	m.mu.Lock()
	if m.s.Round != round || m.s.Game == nil || m.s.Game.ID != game.ID {
		m.mu.Unlock()
		return
	}
	var ev Event
	if err != nil {
		m.logLocked().Warnf("failed to load scores: %v", err)
		ev = Event{Type: EventError, Phase: m.s.Phase, Round: round, Err: err}
	} else {
		m.s.Scores = scores
		ev = Event{Type: EventScores, Phase: m.s.Phase, Round: round, Scores: append([]voting.Score(nil), scores...)}
	}
	m.mu.Unlock()
	m.emit([]Event{ev})
}

func (m *Machine) endGameLocked(message string) []Event {
	m.s.Phase = PhaseGameEnd
	m.stopTimersLocked()
	m.logLocked().Info("game over")
	return []Event{{
		Type:    EventGameEnd,
		Phase:   PhaseGameEnd,
		Round:   m.s.Round,
		Scores:  append([]voting.Score(nil), m.s.Scores...),
		Message: message,
	}}
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
