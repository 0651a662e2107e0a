package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LegacyIssuer is the issuer of HMAC-signed studio tokens
const LegacyIssuer = "vizzle-studio"

const legacyLeeway = 30 * time.Second

var legacyParser = jwt.NewParser(
	jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	jwt.WithLeeway(legacyLeeway),
	jwt.WithIssuedAt(),
)

// LegacyClaims are the claims of HMAC-signed tokens. Tokens minted before the
// issuer claim was introduced carry none and are still accepted.
type LegacyClaims struct {
	UserID string   `json:"userId"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// ValidateLegacyToken verifies an HMAC token signed with secret
func ValidateLegacyToken(tokenString, secret string) (*LegacyClaims, error) {
	claims := &LegacyClaims{}
	token, err := legacyParser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Issuer != "" && claims.Issuer != LegacyIssuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", jwt.ErrTokenInvalidIssuer, claims.Issuer)
	}
	return claims, nil
}
