// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var errInvalidToken = errors.New("invalid token")

// ParseExpireTime reads a TOKEN_EXPIRE_TIME value. "", "0" and "never"
// mean sessions never expire.
func ParseExpireTime(s string) (time.Duration, error) {
	switch s {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("token expire time must not be negative: %s", s)
	}
	return d, nil
}

// TokenIssuer signs and verifies ed25519 session tokens whose subject is the
// user id.
type TokenIssuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expire     time.Duration
	clock      clockwork.Clock
}

// NewTokenIssuer generates a fresh key pair. Tokens minted by one issuer are
// not valid for another.
func NewTokenIssuer(expire time.Duration, clock clockwork.Clock) (*TokenIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return newIssuer(priv, pub, expire, clock), nil
}

// NewTokenIssuerFromFiles loads a raw ed25519 key pair from disk.
func NewTokenIssuerFromFiles(privatePath, publicPath string, expire time.Duration, clock clockwork.Clock) (*TokenIssuer, error) {
	priv, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("key files do not hold a raw ed25519 key pair")
	}
	return newIssuer(ed25519.PrivateKey(priv), ed25519.PublicKey(pub), expire, clock), nil
}

func newIssuer(priv ed25519.PrivateKey, pub ed25519.PublicKey, expire time.Duration, clock clockwork.Clock) *TokenIssuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenIssuer{privateKey: priv, publicKey: pub, expire: expire, clock: clock}
}

// Issue returns a signed token for userID. Without an expiry the token
// carries no exp claim.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	now := t.clock.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
	}
	if t.expire > 0 {
		claims["exp"] = now.Add(t.expire).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(t.privateKey)
}

// Verify checks the token signature and expiry and returns its subject.
func (t *TokenIssuer) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.publicKey, nil
	}, jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !parsed.Valid {
		return "", errInvalidToken
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("missing sub in jwt: %w", errInvalidToken)
	}
	return sub, nil
}
