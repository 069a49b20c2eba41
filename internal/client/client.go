// internal/client/client.go
package client

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/auth"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/game"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/jason-s-yu/jestblank/internal/presence"
	"github.com/jason-s-yu/jestblank/internal/prompts"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	loginAttempts = 3
	loginPause    = time.Second
	sweepTimeout  = 30 * time.Second
)

// ErrManualLogin is returned by Register when the account was created but
// the follow-up sign-in kept failing.
var ErrManualLogin = apperr.Auth("Registration successful! Please log in manually.")

// Client ties auth, the orphan sweep and the game machine together. A
// machine exists only while a user is signed in.
type Client struct {
	cfg        *config.Config
	gw         *gateway.Gateway
	auth       *auth.Service
	pool       *prompts.Pool
	reconciler *presence.Reconciler
	clock      clockwork.Clock
	logger     *logrus.Logger

	onEvent     func(game.Event)
	machineOpts []game.Option

	mu      sync.Mutex
	machine *game.Machine
	bg      sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for the login retry pause and timers.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the client logger.
func WithLogger(l *logrus.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithEventHandler receives the events of every machine the client runs.
func WithEventHandler(fn func(game.Event)) Option {
	return func(cl *Client) { cl.onEvent = fn }
}

// WithMachineOptions passes options to every machine the client creates.
func WithMachineOptions(opts ...game.Option) Option {
	return func(cl *Client) { cl.machineOpts = append(cl.machineOpts, opts...) }
}

// New returns a signed-out client.
func New(cfg *config.Config, gw *gateway.Gateway, authSvc *auth.Service, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		gw:     gw,
		auth:   authSvc,
		clock:  clockwork.NewRealClock(),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pool = prompts.NewPool(gw, cfg.Collections,
		prompts.WithGlobalPrompts(cfg.Game.UseGlobalPrompts), prompts.WithLogger(c.logger))
	c.reconciler = presence.NewReconciler(gw, cfg.Collections.Games, c.logger)
	return c
}

// Machine returns the game machine of the signed-in user, or nil.
func (c *Client) Machine() *game.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine
}

// Register creates an account and signs it in, retrying the sign-in a few
// times since a freshly created account may not be visible yet.
func (c *Client) Register(ctx context.Context, email, password, name string) (models.Identity, error) {
	identity, err := c.auth.SignUp(ctx, email, password, name)
	if err != nil {
		return models.Identity{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return identity, apperr.Wrap(ErrManualLogin, ctx.Err())
			case <-c.clock.After(loginPause):
			}
		}
		signedIn, err := c.login(ctx, email, password)
		if err == nil {
			return signedIn, nil
		}
		lastErr = err
		c.logger.WithField("attempt", attempt).Warnf("sign-in after registration failed: %v", err)
	}
	return identity, apperr.Wrap(ErrManualLogin, lastErr)
}

// Login drops any existing session, signs in and starts a background
// sweep of orphaned games.
func (c *Client) Login(ctx context.Context, email, password string) (models.Identity, error) {
	return c.login(ctx, email, password)
}

func (c *Client) login(ctx context.Context, email, password string) (models.Identity, error) {
	c.endSession(ctx)
	identity, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return models.Identity{}, err
	}
	c.startSession(identity)
	return identity, nil
}

// Resume restores the machine for a session that is still valid.
func (c *Client) Resume(ctx context.Context) (models.Identity, error) {
	identity, err := c.auth.CurrentIdentity(ctx)
	if err != nil {
		return models.Identity{}, err
	}
	if m := c.Machine(); m != nil && m.Identity().ID == identity.ID {
		return identity, nil
	}
	c.startSession(identity)
	return identity, nil
}

// Logout leaves any game and signs out.
func (c *Client) Logout(ctx context.Context) error {
	c.endSession(ctx)
	return nil
}

// SubmitGlobalPrompt adds to the cross-game pool, signed in or not.
func (c *Client) SubmitGlobalPrompt(ctx context.Context, text string) (*models.Prompt, error) {
	submitter := ""
	if m := c.Machine(); m != nil {
		submitter = m.Identity().ID
	}
	return c.pool.SubmitGlobal(ctx, submitter, text)
}

// Sweep runs the orphan sweep now.
func (c *Client) Sweep(ctx context.Context) (presence.SweepReport, error) {
	return c.reconciler.Sweep(ctx)
}

// Wait blocks until background work such as the login sweep is done.
func (c *Client) Wait() {
	c.bg.Wait()
}

// Close signs out and tears down every subscription.
func (c *Client) Close() {
	c.endSession(context.Background())
	c.bg.Wait()
	c.gw.CloseAll()
}

func (c *Client) startSession(identity models.Identity) {
	opts := append([]game.Option{game.WithLogger(c.logger), game.WithClock(c.clock)}, c.machineOpts...)
	m := game.NewMachine(c.gw, c.pool, c.reconciler, c.cfg, identity, opts...)
	m.OnEvent = c.onEvent

	c.mu.Lock()
	c.machine = m
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		report, err := c.reconciler.Sweep(ctx)
		if err != nil {
			c.logger.Warnf("orphan sweep failed: %v", err)
			return
		}
		c.logger.WithField("user", identity.ID).Infof("orphan sweep: %s", report)
	}()
}

func (c *Client) endSession(ctx context.Context) {
	c.mu.Lock()
	m := c.machine
	c.machine = nil
	c.mu.Unlock()
	if m != nil {
		m.Close()
	}
	if err := c.auth.SignOut(ctx); err != nil {
		c.logger.Warnf("sign out: %v", err)
	}
}
