package portal

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the displayable view of an access token. Tokens that do
// not parse as JWTs are reported opaque with every other field zero.
type TokenClaims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	Opaque    bool
}

// Expired reports whether the token carries an expiry in the past.
// Opaque tokens and JWTs without an exp claim are never reported
// expired; only the Portal can judge those.
func (tc TokenClaims) Expired(now time.Time) bool {
	return !tc.ExpiresAt.IsZero() && tc.ExpiresAt.Before(now)
}

// InspectToken decodes an access token's claims without verifying the
// signature. The Portal is the verifier; this side only displays. A
// token that is not a JWT comes back opaque rather than as an error.
func InspectToken(accessToken string) TokenClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return TokenClaims{Opaque: true}
	}

	var tc TokenClaims

	if sub, err := claims.GetSubject(); err == nil {
		tc.Subject = sub
	}

	if iss, err := claims.GetIssuer(); err == nil {
		tc.Issuer = iss
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tc.ExpiresAt = exp.Time
	}

	return tc
}
