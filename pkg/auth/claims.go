// Package auth validates bearer tokens at the HTTP edge. Identity issuance
// lives elsewhere; this package only verifies.
package auth

import "github.com/golang-jwt/jwt/v5"

type contextKey string

// ClaimsKey is the request-context key holding the validated claims.
const ClaimsKey contextKey = "auth_claims"

// Claims are the token claims the engine cares about.
type Claims struct {
	jwt.RegisteredClaims

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}
