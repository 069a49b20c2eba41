// internal/auth/service.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jason-s-yu/jestblank/internal/apperr"
	"github.com/jason-s-yu/jestblank/internal/docstore"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/jason-s-yu/jestblank/internal/models"
	"github.com/sirupsen/logrus"
)

// MinPasswordLength is the shortest password accepted on sign-up.
const MinPasswordLength = 8

var (
	ErrMissingFields      = apperr.Validation("Please fill in all fields.")
	ErrPasswordTooShort   = apperr.Validation(fmt.Sprintf("Password must be at least %d characters long.", MinPasswordLength))
	ErrAlreadyExists      = apperr.Auth("User with this email already exists.")
	ErrInvalidCredentials = apperr.Auth("Login failed. Please check your credentials.")
	ErrNoSession          = apperr.Auth("You are not logged in.")
)

// Service is the account service of one client: users live in the users
// collection and the current session is a signed token held in memory.
type Service struct {
	gw         *gateway.Gateway
	collection string
	issuer     *TokenIssuer
	params     HashParams
	logger     *logrus.Logger

	mu    sync.Mutex
	token string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHashParams overrides the argon2id cost, e.g. to keep tests fast.
func WithHashParams(p HashParams) ServiceOption {
	return func(s *Service) { s.params = p }
}

// WithLogger sets the service logger.
func WithLogger(l *logrus.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService returns a signed-out service over the users collection.
func NewService(gw *gateway.Gateway, usersCollection string, issuer *TokenIssuer, opts ...ServiceOption) *Service {
	s := &Service{
		gw:         gw,
		collection: usersCollection,
		issuer:     issuer,
		params:     DefaultHashParams,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account. It does not sign the user in.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (models.Identity, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" || name == "" {
		return models.Identity{}, ErrMissingFields
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return models.Identity{}, ErrPasswordTooShort
	}

	if existing, err := s.findByEmail(ctx, email); err != nil {
		return models.Identity{}, err
	} else if existing != nil {
		return models.Identity{}, ErrAlreadyExists
	}

	hash, err := HashPassword(password, s.params)
	if err != nil {
		return models.Identity{}, err
	}
	user := &models.User{Email: email, Password: hash, Name: name}
	rec, err := s.gw.CreateRecord(ctx, s.collection, docstore.UniqueID, user.ToFields())
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to create user: %w", err)
	}
	user = models.UserFromRecord(rec)
	s.logger.WithField("userId", user.ID).Info("user registered")
	return user.Identity(), nil
}

// SignIn checks the credentials and starts a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.Identity{}, ErrMissingFields
	}
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return models.Identity{}, err
	}
	if user == nil {
		return models.Identity{}, ErrInvalidCredentials
	}
	ok, err := ComparePassword(password, user.Password)
	if err != nil {
		s.logger.WithField("userId", user.ID).Warnf("stored password hash unreadable: %v", err)
		return models.Identity{}, ErrInvalidCredentials
	}
	if !ok {
		return models.Identity{}, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to issue session: %w", err)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.logger.WithField("userId", user.ID).Info("signed in")
	return user.Identity(), nil
}

// CurrentIdentity resolves the session to its user.
func (s *Service) CurrentIdentity(ctx context.Context) (models.Identity, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == "" {
		return models.Identity{}, ErrNoSession
	}
	userID, err := s.issuer.Verify(token)
	if err != nil {
		return models.Identity{}, apperr.Wrap(ErrNoSession, err)
	}
	rec, err := s.gw.GetRecord(ctx, s.collection, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.Identity{}, ErrNoSession
	}
	if err != nil {
		return models.Identity{}, err
	}
	return models.UserFromRecord(rec).Identity(), nil
}

// Token returns the current session token, empty when signed out.
func (s *Service) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SignOut drops the session. Signing out twice is not an error.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*models.User, error) {
	recs, err := s.gw.ListRecords(ctx, s.collection, docstore.Equal("email", email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return models.UserFromRecord(recs[0]), nil
}
