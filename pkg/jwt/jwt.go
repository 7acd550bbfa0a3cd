package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// TokenKind selects the secret and lifetime used for a token.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

type MyClaims struct {
	UserID string    `json:"userId"`
	Kind   TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies access and refresh tokens. The two kinds are
// signed with different secrets so one can never be replayed as the other.
type TokenIssuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*TokenIssuer)

func WithTTL(access, refresh time.Duration) Option {
	return func(t *TokenIssuer) {
		if access > 0 {
			t.accessTTL = access
		}
		if refresh > 0 {
			t.refreshTTL = refresh
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *TokenIssuer) { t.now = now }
}

func NewTokenIssuer(accessSecret, refreshSecret string, opts ...Option) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("jwt: access and refresh secrets are required")
	}
	t := &TokenIssuer{
		accessKey:  []byte(accessSecret),
		refreshKey: []byte(refreshSecret),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *TokenIssuer) IssueAccessToken(userID string) (string, error) {
	return t.issue(userID, AccessToken)
}

func (t *TokenIssuer) IssueRefreshToken(userID string) (string, error) {
	return t.issue(userID, RefreshToken)
}

func (t *TokenIssuer) issue(userID string, kind TokenKind) (string, error) {
	if userID == "" {
		return "", errors.New("user id cannot be empty")
	}

	key, ttl := t.keyFor(kind)
	now := t.now()
	claims := MyClaims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	// Two refresh tokens minted within the same second must still differ.
	if kind == RefreshToken {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks signature, kind and expiry. It returns ErrTokenExpired only
// for a correctly signed token of the right kind whose exp has passed, and
// ErrInvalidToken for everything else.
func (t *TokenIssuer) Verify(tokenStr string, kind TokenKind) (*MyClaims, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	key, _ := t.keyFor(kind)

	parser := jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}
	claims := &MyClaims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.UserID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(t.now(), true) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

func (t *TokenIssuer) keyFor(kind TokenKind) ([]byte, time.Duration) {
	if kind == RefreshToken {
		return t.refreshKey, t.refreshTTL
	}
	return t.accessKey, t.accessTTL
}
