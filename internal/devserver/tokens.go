package devserver

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`
	Role  string `json:"role"`
}

var (
	errTokenInvalid = stderrors.New("invalid token")
	errTokenRevoked = stderrors.New("token revoked")
)

// tokenIssuer signs and validates HS256 access tokens and tracks revoked
// token IDs until they would have expired anyway.
type tokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	revoked map[string]time.Time
}

func newTokenIssuer(key []byte, issuer string, ttl time.Duration, clock clockwork.Clock) *tokenIssuer {
	return &tokenIssuer{
		key:     key,
		issuer:  issuer,
		ttl:     ttl,
		clock:   clock,
		revoked: make(map[string]time.Time),
	}
}

func (t *tokenIssuer) issue(a *account) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   a.user.ID,
			Audience:  jwt.ClaimStrings{t.issuer},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Email: a.user.Email,
		Role:  a.user.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

func (t *tokenIssuer) validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errTokenInvalid
		}
		return t.key, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.issuer),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.revoked[claims.ID]; ok {
		return nil, errTokenRevoked
	}
	return claims, nil
}

func (t *tokenIssuer) revoke(c *Claims) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for id, exp := range t.revoked {
		if exp.Before(now) {
			delete(t.revoked, id)
		}
	}
	if c.ExpiresAt != nil {
		t.revoked[c.ID] = c.ExpiresAt.Time
	}
}
