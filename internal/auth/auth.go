// Package auth mints and verifies the bearer tokens that scope every API
// request to an organization.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload. OrgID is the tenant scope; MemberID
// identifies the acting member and may be empty for service tokens.
type Claims struct {
	OrgID    string `json:"org"`
	MemberID string `json:"member,omitempty"`
	jwt.RegisteredClaims
}

// Mint signs a token for an org member. tokenID becomes the jti claim and
// matches the APIToken row recorded for revocation checks.
func Mint(secret, orgID, memberID, tokenID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth: secret is required")
	}
	if orgID == "" {
		return "", fmt.Errorf("auth: orgID is required")
	}
	now := time.Now()
	claims := Claims{
		OrgID:    orgID,
		MemberID: memberID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "greenlight",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func Verify(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("greenlight"))
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	if claims.OrgID == "" {
		return nil, fmt.Errorf("auth: token has no org claim")
	}
	return claims, nil
}
