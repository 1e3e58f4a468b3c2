package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cryptex-im/cryptex/internal"
)

// IDTokenClaims is the subset of the identity token payload we rely on.
// Subject (from RegisteredClaims) is the stable user id, Email the contact
// address. Both are re-derived on every token refresh.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// DecodeIDToken extracts the claims from the provider's identity token.
// The token arrives over the same authenticated exchange that issued it, so
// the signature is not re-verified here; malformed payloads or a missing
// subject are a hard failure (internal.ErrInvalidIDToken), never silently
// empty claims.
func DecodeIDToken(idToken string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrInvalidIDToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", internal.ErrInvalidIDToken)
	}
	return claims, nil
}
