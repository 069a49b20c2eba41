// cmd/jestblank/terminal.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/client"
	"github.com/jason-s-yu/jestblank/internal/game"
	"github.com/jason-s-yu/jestblank/internal/roster"
	"github.com/jason-s-yu/jestblank/internal/voting"
	"github.com/skip2/go-qrcode"
)

const helpText = `commands:
  register <email> <password> <name>   create an account and log in
  login <email> <password>              log in
  logout                                log out
  create                                host a new game
  join <code>                           join a game by code
  prompt <text>                         add a prompt to the game
  global <text>                         add a prompt to the shared pool
  start                                 start the game (host)
  draft <text>                          save an answer draft
  answer [text]                         submit your answer (draft if empty)
  vote <n>                              vote for answer n
  next                                  next round
  scores                                show the scoreboard
  reset                                 leave the game
  state | force                         debug helpers
  quit`

// terminal is a line-oriented front end. Commands come from the reader,
// game events are printed as they arrive.
type terminal struct {
	client *client.Client
	debug  bool
	showQR bool

	mu    sync.Mutex
	out   io.Writer
	votes []string // answer ids by displayed number
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) printf(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) run(ctx context.Context, in io.Reader) error {
	t.printf("jestblank v%s, type help for commands\n", releaseVersion)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		quit, err := t.exec(ctx, scanner.Text())
		if err != nil {
			t.printf("%s\n", apperr.Message(err))
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// exec runs one command line.
func (t *terminal) exec(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch name {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help":
		t.printf("%s\n", helpText)
		return false, nil
	case "register":
		if len(args) < 3 {
			return false, apperr.Validation("usage: register <email> <password> <name>")
		}
		id, err := t.client.Register(ctx, args[0], args[1], strings.Join(args[2:], " "))
		if err != nil {
			return false, err
		}
		t.printf("Welcome, %s!\n", id.Name)
		return false, nil
	case "login":
		if len(args) != 2 {
			return false, apperr.Validation("usage: login <email> <password>")
		}
		id, err := t.client.Login(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		t.printf("Welcome back, %s!\n", id.Name)
		return false, nil
	case "logout":
		return false, t.client.Logout(ctx)
	case "global":
		if _, err := t.client.SubmitGlobalPrompt(ctx, rest); err != nil {
			return false, err
		}
		t.printf("Prompt added to the global pool.\n")
		return false, nil
	}

	m := t.client.Machine()
	if m == nil {
		return false, apperr.Auth("Please log in first.")
	}

	switch name {
	case "create":
		g, err := m.CreateGame(ctx)
		if err != nil {
			return false, err
		}
		t.printf("Game created! Code: %s\n", g.Code)
		t.printQR(g.Code)
		return false, nil
	case "join":
		if len(args) != 1 {
			return false, apperr.Validation("usage: join <code>")
		}
		g, err := m.JoinGame(ctx, args[0])
		if err != nil {
			return false, err
		}
		t.printf("Joined game %s hosted by %s.\n", g.Code, roster.DisplayName(g, roster.ResolveHost(g)))
		return false, nil
	case "prompt":
		if _, err := m.SubmitPrompt(ctx, rest); err != nil {
			return false, err
		}
		t.printf("Prompt submitted!\n")
		return false, nil
	case "start":
		return false, m.Start(ctx)
	case "force":
		if !t.debug {
			return false, game.ErrDebugDisabled
		}
		return false, m.ForceStart(ctx)
	case "draft":
		m.SetDraft(rest)
		return false, nil
	case "answer":
		text := rest
		if text == "" {
			text = m.Snapshot().Draft
		}
		return false, m.SubmitAnswer(ctx, text)
	case "vote":
		n, err := strconv.Atoi(rest)
		t.mu.Lock()
		valid := err == nil && n >= 1 && n <= len(t.votes)
		var answerID string
		if valid {
			answerID = t.votes[n-1]
		}
		t.mu.Unlock()
		if !valid {
			return false, apperr.Validation("usage: vote <n>, with n one of the numbered answers")
		}
		return false, m.CastVote(ctx, answerID)
	case "next":
		return false, m.Advance(ctx)
	case "scores":
		scores, err := m.RefreshScores(ctx)
		if err != nil {
			return false, err
		}
		t.printScores(scores)
		return false, nil
	case "reset":
		m.Reset()
		return false, nil
	case "state":
		if !t.debug {
			return false, game.ErrDebugDisabled
		}
		t.printState(m.Snapshot())
		return false, nil
	}
	return false, apperr.Validation(fmt.Sprintf("unknown command %q, type help", name))
}

func (t *terminal) printQR(code string) {
	if !t.showQR {
		return
	}
	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return
	}
	t.printf("%s", q.ToSmallString(false))
}

// render prints a machine event.
func (t *terminal) render(ev game.Event) {
	switch ev.Type {
	case game.EventGameUpdated:
		if ev.Game != nil && ev.Phase.InLobby() {
			names := make([]string, 0, len(ev.Game.Players))
			for _, e := range roster.Entries(ev.Game) {
				names = append(names, e.Label())
			}
			t.printf("Players (%d): %s | prompts in: %d\n", len(names), strings.Join(names, ", "), len(ev.Game.SubmittedPrompts))
		}
	case game.EventRoundStarted:
		t.printf("\nRound %d: %s\n", ev.Round, ev.Prompt)
	case game.EventAnswerSubmitted:
		t.printf("Answer submitted. Waiting for other players...\n")
	case game.EventVotingStarted:
		t.mu.Lock()
		t.votes = t.votes[:0]
		fmt.Fprintf(t.out, "Vote for your favourite answer:\n")
		for i, p := range ev.Pairs {
			fmt.Fprintf(t.out, "  pair %d\n", i+1)
			for _, c := range p.Candidates() {
				if c.Votable {
					t.votes = append(t.votes, c.AnswerID)
					fmt.Fprintf(t.out, "    [%d] %s\n", len(t.votes), c.Text)
				} else {
					fmt.Fprintf(t.out, "     -  %s\n", c.Text)
				}
			}
		}
		t.mu.Unlock()
	case game.EventVoteCount:
		if ev.Answer != nil {
			t.printf("  %q now has %d votes\n", ev.Answer.Text, ev.Answer.Votes)
		}
	case game.EventVoteCast:
		t.printf("Vote recorded!\n")
	case game.EventScores:
		t.printScores(ev.Scores)
	case game.EventGameEnd:
		t.printf("\n%s\n", ev.Message)
		t.printScores(ev.Scores)
	case game.EventGameClosed:
		if ev.Message != "" {
			t.printf("%s\n", ev.Message)
		}
	case game.EventError:
		t.printf("%s\n", apperr.Message(ev.Err))
	}
}

func (t *terminal) printScores(scores []voting.Score) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Scores:\n")
	for i, s := range scores {
		fmt.Fprintf(t.out, "  %d. %s: %d\n", i+1, s.Name, s.Points)
	}
}

func (t *terminal) printState(s game.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "user=%s (%s) phase=%s round=%d answered=%t voted=%t answers=%d\n",
		s.Identity.Name, s.Identity.ID, s.Phase, s.Round, s.Answered, s.Voted, s.AnswerCount)
	if s.Game != nil {
		fmt.Fprintf(t.out, "game=%s code=%s status=%s host=%s prompt=%q\n",
			s.Game.ID, s.Game.Code, s.Game.Status, roster.ResolveHost(s.Game), s.CurrentPrompt)
		fmt.Fprintf(t.out, "players=%v submitted=%v used=%v\n", s.Game.Players, s.Game.SubmittedPrompts, s.UsedPrompts)
	}
}
