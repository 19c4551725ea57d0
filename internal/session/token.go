package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry extracts the exp claim from a JWT without verifying it. The
// signature is the server's business; the client only needs to know when to
// refresh. ok is false for opaque tokens and JWTs without exp.
func tokenExpiry(token string) (exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// needsRefresh reports whether token expires within threshold of now.
func needsRefresh(token string, now time.Time, threshold time.Duration) bool {
	exp, ok := tokenExpiry(token)
	if !ok {
		return false
	}
	return exp.Sub(now) <= threshold
}
